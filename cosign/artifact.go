package cosign

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/mpc-custody/interfaces"
)

// Artifact is the caller-held record carried from Initiate to Complete. The
// core keeps no copy. Byte fields encode as 0x-prefixed hex.
type Artifact struct {
	WalletID string           `json:"wallet_id"`
	Chain    interfaces.Chain `json:"chain"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Amount   *big.Int         `json:"amount"`

	// UnsignedTx is the canonical encoding of the transaction before any
	// signature is attached; Digest is recomputed from it on completion.
	UnsignedTx hexutil.Bytes `json:"unsigned_tx"`
	Digest     hexutil.Bytes `json:"digest"`

	// Ethereum inputs.
	Nonce    uint64   `json:"nonce"`
	GasLimit uint64   `json:"gas_limit,omitempty"`
	ChainID  *big.Int `json:"chain_id,omitempty"`

	// FeeRate is wei per gas or satoshi per vbyte; Fee is the absolute
	// Bitcoin fee in satoshi.
	FeeRate *big.Int          `json:"fee_rate"`
	Fee     int64             `json:"fee,omitempty"`
	Inputs  []interfaces.UTXO `json:"inputs,omitempty"`

	FirstParticipant int `json:"first_participant"`
	// AuthToken binds a threshold artifact to the first participant's share.
	AuthToken hexutil.Bytes `json:"auth_token,omitempty"`
	// FirstSignatures holds one signature per input for multisig artifacts.
	FirstSignatures []hexutil.Bytes `json:"first_signatures,omitempty"`

	SignedTx hexutil.Bytes            `json:"signed_tx,omitempty"`
	TxID     interfaces.TransactionID `json:"tx_id,omitempty"`
	State    State                    `json:"state"`
}

// Clone returns a deep copy.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Amount = cloneInt(a.Amount)
	c.ChainID = cloneInt(a.ChainID)
	c.FeeRate = cloneInt(a.FeeRate)
	c.UnsignedTx = bytes.Clone(a.UnsignedTx)
	c.Digest = bytes.Clone(a.Digest)
	c.AuthToken = bytes.Clone(a.AuthToken)
	c.SignedTx = bytes.Clone(a.SignedTx)
	if a.Inputs != nil {
		c.Inputs = make([]interfaces.UTXO, len(a.Inputs))
		for i, in := range a.Inputs {
			in.PkScript = bytes.Clone(in.PkScript)
			c.Inputs[i] = in
		}
	}
	if a.FirstSignatures != nil {
		c.FirstSignatures = make([]hexutil.Bytes, len(a.FirstSignatures))
		for i, sig := range a.FirstSignatures {
			c.FirstSignatures[i] = bytes.Clone(sig)
		}
	}
	return &c
}

// GuardKey identifies the artifact for a CompletionGuard.
func (a *Artifact) GuardKey() string {
	return string(a.Chain) + ":" + a.WalletID + ":" + hexutil.Encode(a.Digest)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
