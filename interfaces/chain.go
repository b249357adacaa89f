package interfaces

import (
	"context"
	"math/big"
)

// TransactionID is the chain's identifier of a broadcast transaction (hex hash).
type TransactionID string

// TxStatus is the chain-side state of a broadcast transaction.
type TxStatus string

const (
	TxStatusUnknown   TxStatus = "unknown"
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// UTXO is an unspent output owned by a wallet address.
type UTXO struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Amount   int64  `json:"amount"`
	PkScript []byte `json:"pk_script,omitempty"`
}

// ChainInputs carries whatever the chain needs to build a transfer from an
// address: the account nonce or the spendable outputs.
type ChainInputs struct {
	Nonce uint64
	UTXOs []UTXO
}

// ChainGateway is the chain node collaborator. Every call may block on I/O.
type ChainGateway interface {
	// EstimateFee returns the current fee rate in base units per unit of work
	// (wei per gas, satoshi per virtual byte).
	EstimateFee(ctx context.Context) (*big.Int, error)

	// GetInputs returns the nonce or UTXO set for address.
	GetInputs(ctx context.Context, address string) (*ChainInputs, error)

	// Broadcast submits a fully signed, serialized transaction.
	Broadcast(ctx context.Context, signedTx []byte) (TransactionID, error)

	// GetStatus reports the state of a broadcast transaction.
	GetStatus(ctx context.Context, txID TransactionID) (TxStatus, error)
}
