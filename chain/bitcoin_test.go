package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBitcoinClient struct {
	feeRate   *float64
	unspent   []btcjson.ListUnspentResult
	listAddrs []btcutil.Address
	sent      []*wire.MsgTx
	sendErr   error
	rawResult *btcjson.TxRawResult
	rawErr    error
}

func (f *fakeBitcoinClient) EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error) {
	return &btcjson.EstimateSmartFeeResult{FeeRate: f.feeRate, Blocks: confTarget}, nil
}

func (f *fakeBitcoinClient) ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {
	f.listAddrs = addrs
	return f.unspent, nil
}

func (f *fakeBitcoinClient) SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, tx)
	hash := tx.TxHash()
	return &hash, nil
}

func (f *fakeBitcoinClient) GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {
	return f.rawResult, f.rawErr
}

func floatPtr(v float64) *float64 { return &v }

func TestBitcoinGateway_EstimateFee(t *testing.T) {
	tests := []struct {
		name    string
		feeRate *float64
		want    int64
	}{
		{name: "btc per kvB to sat per vB", feeRate: floatPtr(0.00012), want: 12},
		{name: "rounds up", feeRate: floatPtr(0.000012), want: 2},
		{name: "floor of one", feeRate: floatPtr(0.0000001), want: 1},
		{name: "fallback without estimate", feeRate: nil, want: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewBitcoinGateway(&fakeBitcoinClient{feeRate: tt.feeRate}, BitcoinConfig{FallbackFeeRate: 7}, testLogger())
			fee, err := gw.EstimateFee(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, fee.Int64())
		})
	}
}

func TestBitcoinGateway_GetInputs(t *testing.T) {
	client := &fakeBitcoinClient{
		unspent: []btcjson.ListUnspentResult{
			{TxID: "aa" + string(bytes.Repeat([]byte("0"), 62)), Vout: 1, Amount: 0.5, ScriptPubKey: "a914" + hex.EncodeToString(make([]byte, 20)) + "87"},
		},
	}
	gw := NewBitcoinGateway(client, BitcoinConfig{Net: &chaincfg.TestNet3Params}, testLogger())

	inputs, err := gw.GetInputs(context.Background(), "mrCDrCybB6J1vRfbwM5hemdJz73FwDBC8r")
	require.NoError(t, err)
	require.Len(t, inputs.UTXOs, 1)
	assert.Equal(t, int64(50_000_000), inputs.UTXOs[0].Amount)
	assert.Equal(t, uint32(1), inputs.UTXOs[0].Vout)
	assert.Len(t, inputs.UTXOs[0].PkScript, 23)
	require.Len(t, client.listAddrs, 1)
	assert.Equal(t, "mrCDrCybB6J1vRfbwM5hemdJz73FwDBC8r", client.listAddrs[0].EncodeAddress())

	_, err = gw.GetInputs(context.Background(), "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH")
	assert.ErrorIs(t, err, interfaces.ErrValidation, "mainnet address on testnet")
}

func TestBitcoinGateway_Broadcast(t *testing.T) {
	client := &fakeBitcoinClient{}
	gw := NewBitcoinGateway(client, BitcoinConfig{}, testLogger())
	ctx := context.Background()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	txID, err := gw.Broadcast(ctx, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, interfaces.TransactionID(tx.TxHash().String()), txID)
	require.Len(t, client.sent, 1)

	_, err = gw.Broadcast(ctx, []byte{0xff})
	assert.Error(t, err)

	client.sendErr = errors.New("bad-txns-inputs-missingorspent")
	_, err = gw.Broadcast(ctx, buf.Bytes())
	assert.ErrorContains(t, err, "missingorspent")
}

func TestBitcoinGateway_GetStatus(t *testing.T) {
	txID := interfaces.TransactionID(chainhash.Hash{2}.String())

	tests := []struct {
		name   string
		client *fakeBitcoinClient
		want   interfaces.TxStatus
		err    bool
	}{
		{name: "confirmed", client: &fakeBitcoinClient{rawResult: &btcjson.TxRawResult{Confirmations: 3}}, want: interfaces.TxStatusConfirmed},
		{name: "mempool", client: &fakeBitcoinClient{rawResult: &btcjson.TxRawResult{}}, want: interfaces.TxStatusPending},
		{name: "unknown", client: &fakeBitcoinClient{rawErr: &btcjson.RPCError{Code: btcjson.ErrRPCNoTxInfo, Message: "No such mempool or blockchain transaction"}}, want: interfaces.TxStatusUnknown},
		{name: "node error", client: &fakeBitcoinClient{rawErr: errors.New("connection refused")}, want: interfaces.TxStatusUnknown, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewBitcoinGateway(tt.client, BitcoinConfig{}, testLogger())
			status, err := gw.GetStatus(context.Background(), txID)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, status)
		})
	}

	_, err := NewBitcoinGateway(&fakeBitcoinClient{}, BitcoinConfig{}, testLogger()).GetStatus(context.Background(), "zz")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}
