package cosign

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
)

// DustLimit is the smallest output value, in satoshi, relayed by default.
const DustLimit = 546

// multisigSigner authorizes Bitcoin transfers from a P2SH t-of-n multisig
// address. Each participant holds an independent key stored as the y value of
// its share.
type multisigSigner struct {
	shares  interfaces.ShareVault
	deriver *keys.Deriver
	log     *slog.Logger
}

func (s *multisigSigner) redeemScript(cred *interfaces.WalletCredential) ([]byte, error) {
	script, err := hex.DecodeString(cred.RedeemScript)
	if err != nil || len(script) == 0 {
		return nil, interfaces.Internal("decoding redeem script", err)
	}
	return script, nil
}

// participantKey opens the independent key of idx and checks it against the
// public key recorded for that slot.
func (s *multisigSigner) participantKey(ctx context.Context, cred *interfaces.WalletCredential, idx int) (*btcec.PrivateKey, error) {
	share, err := s.shares.Retrieve(ctx, cred.WalletID, idx)
	if err != nil {
		return nil, err
	}
	defer share.Wipe()

	key, err := keys.PrivateKeyFromScalar(share.Y)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)

	if idx >= len(cred.ParticipantKeys) || keys.CompressedHex(&key.PublicKey) != cred.ParticipantKeys[idx] {
		return nil, interfaces.Cryptof("key of participant %d does not match the wallet", idx)
	}
	return keys.ToBTCEC(key), nil
}

func (s *multisigSigner) initiate(ctx context.Context, cred *interfaces.WalletCredential, req TransferRequest, gw interfaces.ChainGateway) (*Artifact, error) {
	if !req.Amount.IsInt64() || req.Amount.Int64() < DustLimit {
		return nil, interfaces.Validationf("amount %s is below the dust limit or out of range", req.Amount)
	}
	amount := req.Amount.Int64()

	redeemScript, err := s.redeemScript(cred)
	if err != nil {
		return nil, err
	}
	toScript, err := s.payScript(req.To)
	if err != nil {
		return nil, err
	}
	changeScript, err := s.payScript(cred.Address)
	if err != nil {
		return nil, err
	}

	key, err := s.participantKey(ctx, cred, req.Participant)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	feeRate, err := gw.EstimateFee(ctx)
	if err != nil {
		return nil, interfaces.Transmission(err)
	}
	if !feeRate.IsInt64() || feeRate.Sign() <= 0 {
		return nil, interfaces.Internal("estimating fee", fmt.Errorf("unusable fee rate %v", feeRate))
	}
	inputs, err := gw.GetInputs(ctx, cred.Address)
	if err != nil {
		return nil, interfaces.Transmission(err)
	}

	selected, fee, change, err := selectCoins(inputs.UTXOs, amount, feeRate.Int64(), cred.Threshold, len(redeemScript))
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, interfaces.Internal("decoding utxo txid", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	unsigned, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	sigs := make([]hexutil.Bytes, len(tx.TxIn))
	for i := range tx.TxIn {
		sig, err := txscript.RawTxInSignature(tx, i, redeemScript, txscript.SigHashAll, key)
		if err != nil {
			return nil, interfaces.Cryptof("signing input %d: %v", i, err)
		}
		sigs[i] = sig
	}

	digest := tx.TxHash()
	art := &Artifact{
		WalletID:         cred.WalletID,
		Chain:            cred.Chain,
		From:             cred.Address,
		To:               req.To,
		Amount:           big.NewInt(amount),
		UnsignedTx:       unsigned,
		Digest:           digest[:],
		FeeRate:          new(big.Int).Set(feeRate),
		Fee:              fee,
		Inputs:           selected,
		FirstParticipant: req.Participant,
		FirstSignatures:  sigs,
		State:            StateUnsigned,
	}
	if err := art.transition(StatePartiallyAuthorized); err != nil {
		return nil, err
	}

	s.log.Debug("Multisig inputs signed by first participant",
		slog.String("wallet_id", cred.WalletID),
		slog.Int("inputs", len(selected)),
		slog.Int64("fee", fee),
		slog.Int64("change", change))
	return art, nil
}

func (s *multisigSigner) complete(ctx context.Context, cred *interfaces.WalletCredential, art *Artifact, participants []int) (*Artifact, error) {
	redeemScript, err := s.redeemScript(cred)
	if err != nil {
		return nil, err
	}
	tx, err := s.decode(art)
	if err != nil {
		return nil, err
	}

	// OP_CHECKMULTISIG consumes exactly threshold signatures.
	signers := participants[:cred.Threshold]

	firstPub, err := participantPubKey(cred, art.FirstParticipant)
	if err != nil {
		return nil, err
	}
	sigsByParticipant := map[int][]hexutil.Bytes{art.FirstParticipant: art.FirstSignatures}
	for i := range tx.TxIn {
		if err := verifyInputSignature(tx, i, redeemScript, art.FirstSignatures[i], firstPub); err != nil {
			return nil, err
		}
	}

	for _, idx := range signers[1:] {
		key, err := s.participantKey(ctx, cred, idx)
		if err != nil {
			return nil, err
		}
		sigs := make([]hexutil.Bytes, len(tx.TxIn))
		for i := range tx.TxIn {
			sig, err := txscript.RawTxInSignature(tx, i, redeemScript, txscript.SigHashAll, key)
			if err != nil {
				key.Zero()
				return nil, interfaces.Cryptof("signing input %d: %v", i, err)
			}
			sigs[i] = sig
		}
		key.Zero()
		sigsByParticipant[idx] = sigs
	}

	// Signatures must follow the key order of the redeem script, which is
	// participant index order.
	ordered := append([]int(nil), signers...)
	sort.Ints(ordered)

	for i := range tx.TxIn {
		builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
		for _, idx := range ordered {
			builder.AddData(sigsByParticipant[idx][i])
		}
		builder.AddData(redeemScript)
		script, err := builder.Script()
		if err != nil {
			return nil, interfaces.Cryptof("building scriptSig for input %d: %v", i, err)
		}
		tx.TxIn[i].SignatureScript = script
	}

	raw, err := serialize(tx)
	if err != nil {
		return nil, err
	}

	out := art.Clone()
	out.SignedTx = raw
	out.TxID = interfaces.TransactionID(tx.TxHash().String())
	if err := out.transition(StateFinalized); err != nil {
		return nil, err
	}
	return out, nil
}

// decode parses the carried transaction and checks it against the digest, the
// transfer fields and the first signatures.
func (s *multisigSigner) decode(art *Artifact) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(art.UnsignedTx)); err != nil {
		return nil, interfaces.Cryptof("malformed transaction bytes: %v", err)
	}
	digest := tx.TxHash()
	if !bytes.Equal(digest[:], art.Digest) {
		return nil, interfaces.Cryptof("digest mismatch")
	}
	if len(tx.TxIn) == 0 || len(art.FirstSignatures) != len(tx.TxIn) {
		return nil, interfaces.Cryptof("expected one first signature per input")
	}
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) != 0 {
			return nil, interfaces.Cryptof("input %d is already signed", i)
		}
	}
	toScript, err := s.payScript(art.To)
	if err != nil {
		return nil, interfaces.Cryptof("artifact destination: %v", err)
	}
	if len(tx.TxOut) == 0 || art.Amount == nil || !art.Amount.IsInt64() ||
		tx.TxOut[0].Value != art.Amount.Int64() || !bytes.Equal(tx.TxOut[0].PkScript, toScript) {
		return nil, interfaces.Cryptof("transaction does not match artifact transfer")
	}
	return tx, nil
}

func (s *multisigSigner) payScript(address string) ([]byte, error) {
	if err := s.deriver.ValidateAddress(address, interfaces.ChainBitcoin); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, s.deriver.BitcoinNet)
	if err != nil {
		return nil, interfaces.Validationf("invalid bitcoin address %q: %v", address, err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, interfaces.Validationf("unsupported address %q: %v", address, err)
	}
	return script, nil
}

func participantPubKey(cred *interfaces.WalletCredential, idx int) (*btcec.PublicKey, error) {
	if idx < 0 || idx >= len(cred.ParticipantKeys) {
		return nil, interfaces.NotFoundf("public key of participant %d", idx)
	}
	raw, err := hex.DecodeString(cred.ParticipantKeys[idx])
	if err != nil {
		return nil, interfaces.Internal("decoding participant key", err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, interfaces.Internal("parsing participant key", err)
	}
	return pub, nil
}

// verifyInputSignature checks a DER signature with trailing sighash byte.
func verifyInputSignature(tx *wire.MsgTx, idx int, redeemScript, sig []byte, pub *btcec.PublicKey) error {
	if len(sig) < 2 || txscript.SigHashType(sig[len(sig)-1]) != txscript.SigHashAll {
		return interfaces.Cryptof("input %d: unsupported signature encoding", idx)
	}
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return interfaces.Cryptof("input %d: %v", idx, err)
	}
	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, idx)
	if err != nil {
		return interfaces.Cryptof("input %d: %v", idx, err)
	}
	if !parsed.Verify(hash, pub) {
		return interfaces.Cryptof("input %d: first signature does not verify", idx)
	}
	return nil
}

func serialize(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, interfaces.Internal("encoding transaction", err)
	}
	return buf.Bytes(), nil
}
