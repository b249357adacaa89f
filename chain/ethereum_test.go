package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var simulatedChainID = big.NewInt(1337)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestChain(t *testing.T) (*simulated.Backend, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	balance, _ := new(big.Int).SetString("10000000000000000000", 10) // 10 ETH
	backend := simulated.NewBackend(map[common.Address]types.Account{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: balance},
	}, simulated.WithBlockGasLimit(8000000))
	t.Cleanup(func() { _ = backend.Close() })
	return backend, key
}

func TestEthereumGateway_BroadcastAndStatus(t *testing.T) {
	backend, key := setupTestChain(t)
	gw := NewEthereumGateway(backend.Client(), testLogger())
	ctx := context.Background()
	from := crypto.PubkeyToAddress(key.PublicKey)

	price, err := gw.EstimateFee(ctx)
	require.NoError(t, err)
	assert.Positive(t, price.Sign())

	inputs, err := gw.GetInputs(ctx, from.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), inputs.Nonce)

	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	tx, err := types.SignTx(
		types.NewTransaction(inputs.Nonce, to, big.NewInt(1000), 21000, price, nil),
		types.NewEIP155Signer(simulatedChainID), key)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	txID, err := gw.Broadcast(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TransactionID(tx.Hash().Hex()), txID)

	status, err := gw.GetStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxStatusPending, status)

	backend.Commit()

	// The receipt becomes visible once the indexer caught up with the block.
	assert.Eventually(t, func() bool {
		status, err := gw.GetStatus(ctx, txID)
		return err == nil && status == interfaces.TxStatusConfirmed
	}, 5*time.Second, 20*time.Millisecond)

	inputs, err = gw.GetInputs(ctx, from.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inputs.Nonce)

	balance, err := backend.Client().BalanceAt(ctx, to, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Int64())
}

func TestEthereumGateway_Errors(t *testing.T) {
	backend, _ := setupTestChain(t)
	gw := NewEthereumGateway(backend.Client(), testLogger())
	ctx := context.Background()

	_, err := gw.GetInputs(ctx, "not-an-address")
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = gw.Broadcast(ctx, []byte{0x01, 0x02})
	assert.Error(t, err)

	// Valid encoding, but the sender has no funds.
	poor, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := types.SignTx(
		types.NewTransaction(0, common.Address{1}, big.NewInt(1), 21000, big.NewInt(1e9), nil),
		types.NewEIP155Signer(simulatedChainID), poor)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	_, err = gw.Broadcast(ctx, raw)
	assert.Error(t, err)

	status, err := gw.GetStatus(ctx, interfaces.TransactionID(common.Hash{0xab}.Hex()))
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxStatusUnknown, status)
}

// indexingClient answers lookups the way a node with a lagging indexer does.
type indexingClient struct {
	EthereumClient
	receiptErr error
	txErr      error
	pending    bool
}

func (c *indexingClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, c.receiptErr
}

func (c *indexingClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if c.txErr != nil {
		return nil, false, c.txErr
	}
	return types.NewTransaction(0, common.Address{}, big.NewInt(0), 21000, big.NewInt(1), nil), c.pending, nil
}

func TestEthereumGateway_GetStatus_IndexingInProgress(t *testing.T) {
	indexing := errors.New("transaction indexing is in progress")
	txID := interfaces.TransactionID(common.Hash{0xcd}.Hex())

	tests := []struct {
		name       string
		client     *indexingClient
		wantStatus interfaces.TxStatus
		wantErr    bool
	}{
		{
			name:       "in pool while indexing",
			client:     &indexingClient{receiptErr: indexing, pending: true},
			wantStatus: interfaces.TxStatusPending,
		},
		{
			name:       "unknown while indexing",
			client:     &indexingClient{receiptErr: indexing, txErr: indexing},
			wantStatus: interfaces.TxStatusUnknown,
		},
		{
			name:       "not found",
			client:     &indexingClient{receiptErr: ethereum.NotFound, txErr: ethereum.NotFound},
			wantStatus: interfaces.TxStatusUnknown,
		},
		{
			name:       "receipt lookup fails",
			client:     &indexingClient{receiptErr: errors.New("connection refused")},
			wantStatus: interfaces.TxStatusUnknown,
			wantErr:    true,
		},
		{
			name:       "transaction lookup fails",
			client:     &indexingClient{receiptErr: indexing, txErr: errors.New("connection refused")},
			wantStatus: interfaces.TxStatusUnknown,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := NewEthereumGateway(tt.client, testLogger()).GetStatus(context.Background(), txID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
