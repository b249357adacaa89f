package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/mpc-custody/interfaces"
)

// EthereumClient is the subset of ethclient.Client the gateway uses.
// ethclient.Client and the simulated backend client both satisfy it.
type EthereumClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// EthereumGateway talks to an Ethereum JSON-RPC endpoint.
type EthereumGateway struct {
	client EthereumClient
	log    *slog.Logger
}

// NewEthereumGateway wraps client.
func NewEthereumGateway(client EthereumClient, log *slog.Logger) *EthereumGateway {
	if log == nil {
		log = slog.Default()
	}
	return &EthereumGateway{client: client, log: log}
}

// DialEthereum connects to rpcURL.
func DialEthereum(ctx context.Context, rpcURL string, log *slog.Logger) (*EthereumGateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum RPC: %w", err)
	}
	return NewEthereumGateway(client, log), nil
}

// EstimateFee returns the suggested gas price in wei.
func (g *EthereumGateway) EstimateFee(ctx context.Context) (*big.Int, error) {
	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggesting gas price: %w", err)
	}
	return price, nil
}

// GetInputs returns the pending nonce of address.
func (g *EthereumGateway) GetInputs(ctx context.Context, address string) (*interfaces.ChainInputs, error) {
	if !common.IsHexAddress(address) {
		return nil, interfaces.Validationf("invalid ethereum address %q", address)
	}
	nonce, err := g.client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}
	return &interfaces.ChainInputs{Nonce: nonce}, nil
}

// Broadcast decodes a binary encoded transaction and submits it.
func (g *EthereumGateway) Broadcast(ctx context.Context, signedTx []byte) (interfaces.TransactionID, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signedTx); err != nil {
		return "", fmt.Errorf("decoding signed transaction: %w", err)
	}
	if err := g.client.SendTransaction(ctx, tx); err != nil {
		g.log.Warn("Transaction rejected by node",
			slog.String("tx_hash", tx.Hash().Hex()),
			"err", err)
		return "", fmt.Errorf("sending transaction: %w", err)
	}
	g.log.Info("Transaction broadcast", slog.String("tx_hash", tx.Hash().Hex()))
	return interfaces.TransactionID(tx.Hash().Hex()), nil
}

// txIndexingMessage is returned by nodes whose transaction indexer has not
// caught up; the lookup is retried later rather than failed.
const txIndexingMessage = "transaction indexing is in progress"

func notYetIndexed(err error) bool {
	return errors.Is(err, ethereum.NotFound) || strings.Contains(err.Error(), txIndexingMessage)
}

// GetStatus looks up the receipt of txID, falling back to the pool. A node
// still indexing reports unknown transactions as TxStatusUnknown.
func (g *EthereumGateway) GetStatus(ctx context.Context, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	hash := common.HexToHash(string(txID))

	receipt, err := g.client.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		if receipt.Status == types.ReceiptStatusSuccessful {
			return interfaces.TxStatusConfirmed, nil
		}
		return interfaces.TxStatusFailed, nil
	case !notYetIndexed(err):
		return interfaces.TxStatusUnknown, fmt.Errorf("fetching receipt: %w", err)
	}

	_, _, err = g.client.TransactionByHash(ctx, hash)
	if err != nil {
		if notYetIndexed(err) {
			g.log.Debug("Transaction not known yet", slog.String("tx_hash", hash.Hex()), "err", err)
			return interfaces.TxStatusUnknown, nil
		}
		return interfaces.TxStatusUnknown, fmt.Errorf("fetching transaction: %w", err)
	}
	// A mined transaction without an indexed receipt is still reported pending.
	return interfaces.TxStatusPending, nil
}
