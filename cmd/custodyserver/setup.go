package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/redis/go-redis/v9"
	"github.com/ruteri/mpc-custody/chain"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/kms"
	"github.com/ruteri/mpc-custody/storage"
	"github.com/urfave/cli/v2"
)

// decodeSecret accepts hex (optionally 0x prefixed) or standard base64.
func decodeSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("expected hex or base64")
	}
	return b, nil
}

// masterSecretFromFlags returns the deployment secret given directly or
// recovered from operator-held shares. It returns nil when neither is set.
func masterSecretFromFlags(secret string, shares []string, threshold int) ([]byte, error) {
	if secret != "" && len(shares) > 0 {
		return nil, errors.New("master-secret and master-share are mutually exclusive")
	}
	if secret != "" {
		b, err := decodeSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("master-secret: %w", err)
		}
		if len(b) < kms.MinMasterSecretLen {
			return nil, fmt.Errorf("master-secret must be at least %d bytes", kms.MinMasterSecretLen)
		}
		return b, nil
	}
	if len(shares) == 0 {
		return nil, nil
	}

	decoded := make([][]byte, len(shares))
	for i, s := range shares {
		b, err := decodeSecret(s)
		if err != nil {
			return nil, fmt.Errorf("master-share %d: %w", i, err)
		}
		decoded[i] = b
	}
	return kms.RecoverMasterSecret(decoded, threshold)
}

func bitcoinParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

func kmsConfigFromFlags(cCtx *cli.Context, secret []byte) (kms.Config, error) {
	salt := cCtx.String(flagKDFSalt.Name)
	if salt == "" {
		return kms.Config{}, errors.New("kdf-salt is required")
	}
	return kms.Config{
		MasterSecret: secret,
		Salt:         []byte(salt),
		KDF:          kms.KDF(cCtx.String(flagKDF.Name)),
		Iterations:   cCtx.Int(flagKDFIterations.Name),
	}, nil
}

func openWalletStore(cCtx *cli.Context, log *slog.Logger) (interfaces.WalletStore, error) {
	locations, err := interfaces.ParseStorageBackendLocations(cCtx.String(flagStorage.Name))
	if err != nil {
		return nil, err
	}
	factory := storage.NewStorageBackendFactory(log).WithMinWrites(cCtx.Int(flagStorageMinWrites.Name))
	if certFile := cCtx.String(flagVaultClientCert.Name); certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, cCtx.String(flagVaultClientKey.Name))
		if err != nil {
			return nil, fmt.Errorf("loading vault client certificate: %w", err)
		}
		factory = factory.WithTLSAuth(cert)
	}
	return factory.WalletStoreFor(locations)
}

// completionGuard builds the configured guard; "none" returns nil.
func completionGuard(kind, redisURL string, ttl time.Duration) (interfaces.CompletionGuard, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return cosign.NewMemoryGuard(ttl), nil
	case "redis":
		if redisURL == "" {
			return nil, errors.New("guard-redis-url is required for the redis guard")
		}
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid guard-redis-url: %w", err)
		}
		return cosign.NewRedisGuard(redis.NewClient(opts), "custody:guard:", ttl), nil
	default:
		return nil, fmt.Errorf("unknown completion guard %q", kind)
	}
}

// dialGateways connects to every configured chain node. Chains without an
// endpoint are left out and their wallets cannot transact.
func dialGateways(ctx context.Context, cCtx *cli.Context, btcNet *chaincfg.Params, log *slog.Logger) (map[interfaces.Chain]interfaces.ChainGateway, func(), error) {
	gateways := make(map[interfaces.Chain]interfaces.ChainGateway)
	cleanup := func() {}

	if rpcURL := cCtx.String(flagEthRPC.Name); rpcURL != "" {
		log.Info("Connecting to Ethereum RPC", "address", rpcURL)
		gw, err := chain.DialEthereum(ctx, rpcURL, log)
		if err != nil {
			return nil, cleanup, err
		}
		gateways[interfaces.ChainEthereum] = gw
	}

	if host := cCtx.String(flagBtcRPCHost.Name); host != "" {
		log.Info("Connecting to Bitcoin RPC", "host", host, "network", btcNet.Name)
		gw, client, err := chain.DialBitcoin(host,
			cCtx.String(flagBtcRPCUser.Name),
			cCtx.String(flagBtcRPCPass.Name),
			!cCtx.Bool(flagBtcRPCTLS.Name),
			chain.BitcoinConfig{Net: btcNet, FallbackFeeRate: cCtx.Int64(flagBtcFallbackFee.Name)},
			log)
		if err != nil {
			return nil, cleanup, err
		}
		gateways[interfaces.ChainBitcoin] = gw
		cleanup = client.Shutdown
	}

	if len(gateways) == 0 {
		return nil, cleanup, errors.New("at least one of eth-rpc or btc-rpc-host is required")
	}
	return gateways, cleanup, nil
}

func ethereumChainID(cCtx *cli.Context) (*big.Int, error) {
	id := cCtx.Uint64(flagEthChainID.Name)
	if id == 0 {
		return nil, errors.New("eth-chain-id must be positive")
	}
	return new(big.Int).SetUint64(id), nil
}
