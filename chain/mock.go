package chain

import (
	"context"
	"math/big"

	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a testify mock of interfaces.ChainGateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) EstimateFee(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockGateway) GetInputs(ctx context.Context, address string) (*interfaces.ChainInputs, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ChainInputs), args.Error(1)
}

func (m *MockGateway) Broadcast(ctx context.Context, signedTx []byte) (interfaces.TransactionID, error) {
	args := m.Called(ctx, signedTx)
	return args.Get(0).(interfaces.TransactionID), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	args := m.Called(ctx, txID)
	return args.Get(0).(interfaces.TxStatus), args.Error(1)
}
