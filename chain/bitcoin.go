package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/ruteri/mpc-custody/interfaces"
)

// BitcoinClient is the subset of rpcclient.Client the gateway uses.
type BitcoinClient interface {
	EstimateSmartFee(confTarget int64, mode *btcjson.EstimateSmartFeeMode) (*btcjson.EstimateSmartFeeResult, error)
	ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	GetRawTransactionVerbose(txHash *chainhash.Hash) (*btcjson.TxRawResult, error)
}

// BitcoinConfig tunes the Bitcoin gateway.
type BitcoinConfig struct {
	Net *chaincfg.Params
	// ConfTarget is the estimatesmartfee confirmation target in blocks.
	ConfTarget int64
	// MinConf is the minimum number of confirmations of a spendable output.
	MinConf int
	// FallbackFeeRate (sat/vB) is used when the node has no estimate.
	FallbackFeeRate int64
}

// BitcoinGateway talks to a Bitcoin Core compatible node. Wallet addresses must
// be watched by the node wallet for listunspent to report them.
type BitcoinGateway struct {
	client BitcoinClient
	cfg    BitcoinConfig
	log    *slog.Logger
}

// NewBitcoinGateway wraps client.
func NewBitcoinGateway(client BitcoinClient, cfg BitcoinConfig, log *slog.Logger) *BitcoinGateway {
	if cfg.Net == nil {
		cfg.Net = &chaincfg.TestNet3Params
	}
	if cfg.ConfTarget <= 0 {
		cfg.ConfTarget = 6
	}
	if cfg.MinConf <= 0 {
		cfg.MinConf = 1
	}
	if cfg.FallbackFeeRate <= 0 {
		cfg.FallbackFeeRate = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &BitcoinGateway{client: client, cfg: cfg, log: log}
}

// DialBitcoin connects to a node over HTTP POST JSON-RPC.
func DialBitcoin(host, user, pass string, disableTLS bool, cfg BitcoinConfig, log *slog.Logger) (*BitcoinGateway, *rpcclient.Client, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   disableTLS,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bitcoin RPC client: %w", err)
	}
	return NewBitcoinGateway(client, cfg, log), client, nil
}

// EstimateFee returns the fee rate in satoshi per virtual byte, at least 1.
func (g *BitcoinGateway) EstimateFee(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := btcjson.EstimateModeConservative
	res, err := g.client.EstimateSmartFee(g.cfg.ConfTarget, &mode)
	if err != nil {
		return nil, fmt.Errorf("estimating fee: %w", err)
	}
	if res.FeeRate == nil || *res.FeeRate <= 0 {
		g.log.Warn("No fee estimate available, using fallback",
			slog.Int64("fallback_sat_per_vbyte", g.cfg.FallbackFeeRate),
			slog.Any("node_errors", res.Errors))
		return big.NewInt(g.cfg.FallbackFeeRate), nil
	}

	// FeeRate is BTC per kvB.
	perKVB, err := btcutil.NewAmount(*res.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("decoding fee rate: %w", err)
	}
	satPerVByte := (int64(perKVB) + 999) / 1000
	if satPerVByte < 1 {
		satPerVByte = 1
	}
	return big.NewInt(satPerVByte), nil
}

// GetInputs lists the confirmed spendable outputs of address.
func (g *BitcoinGateway) GetInputs(ctx context.Context, address string) (*interfaces.ChainInputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(address, g.cfg.Net)
	if err != nil {
		return nil, interfaces.Validationf("invalid bitcoin address %q: %v", address, err)
	}

	unspent, err := g.client.ListUnspentMinMaxAddresses(g.cfg.MinConf, math.MaxInt32, []btcutil.Address{addr})
	if err != nil {
		return nil, fmt.Errorf("listing unspent outputs: %w", err)
	}

	utxos := make([]interfaces.UTXO, 0, len(unspent))
	for _, u := range unspent {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("decoding amount of %s:%d: %w", u.TxID, u.Vout, err)
		}
		pkScript, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("decoding script of %s:%d: %w", u.TxID, u.Vout, err)
		}
		utxos = append(utxos, interfaces.UTXO{
			TxID:     u.TxID,
			Vout:     u.Vout,
			Amount:   int64(amount),
			PkScript: pkScript,
		})
	}
	return &interfaces.ChainInputs{UTXOs: utxos}, nil
}

// Broadcast submits a serialized transaction.
func (g *BitcoinGateway) Broadcast(ctx context.Context, signedTx []byte) (interfaces.TransactionID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(signedTx)); err != nil {
		return "", fmt.Errorf("decoding signed transaction: %w", err)
	}

	hash, err := g.client.SendRawTransaction(tx, false)
	if err != nil {
		g.log.Warn("Transaction rejected by node",
			slog.String("txid", tx.TxHash().String()),
			"err", err)
		return "", fmt.Errorf("sending transaction: %w", err)
	}
	g.log.Info("Transaction broadcast", slog.String("txid", hash.String()))
	return interfaces.TransactionID(hash.String()), nil
}

// GetStatus reports confirmed once the transaction is in a block.
func (g *BitcoinGateway) GetStatus(ctx context.Context, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.TxStatusUnknown, err
	}
	hash, err := chainhash.NewHashFromStr(string(txID))
	if err != nil {
		return interfaces.TxStatusUnknown, interfaces.Validationf("invalid transaction id %q", txID)
	}

	res, err := g.client.GetRawTransactionVerbose(hash)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
			return interfaces.TxStatusUnknown, nil
		}
		return interfaces.TxStatusUnknown, fmt.Errorf("fetching transaction: %w", err)
	}
	if res.Confirmations > 0 {
		return interfaces.TxStatusConfirmed, nil
	}
	return interfaces.TxStatusPending, nil
}
