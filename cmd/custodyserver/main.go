package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/mpc-custody/cmd/flags"
	"github.com/ruteri/mpc-custody/common"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/httpserver"
	"github.com/ruteri/mpc-custody/keys"
	"github.com/ruteri/mpc-custody/kms"
	"github.com/ruteri/mpc-custody/sharevault"
	"github.com/ruteri/mpc-custody/wallet"
	"github.com/urfave/cli/v2"
)

var (
	flagStorage = &cli.StringFlag{
		Name:    "storage",
		Value:   "memory://custody",
		Usage:   "comma separated storage locations (memory://, file://, s3://, vault://, redis://) or a single postgres:// DSN",
		EnvVars: []string{"CUSTODY_STORAGE"},
	}
	flagStorageMinWrites = &cli.IntFlag{
		Name:    "storage-min-writes",
		Value:   1,
		Usage:   "backends that must accept a write when several storage locations are given",
		EnvVars: []string{"CUSTODY_STORAGE_MIN_WRITES"},
	}
	flagVaultClientCert = &cli.StringFlag{
		Name:    "vault-client-cert",
		Usage:   "PEM client certificate presented to vault:// storage backends",
		EnvVars: []string{"CUSTODY_VAULT_CLIENT_CERT"},
	}
	flagVaultClientKey = &cli.StringFlag{
		Name:    "vault-client-key",
		Usage:   "PEM private key for --vault-client-cert",
		EnvVars: []string{"CUSTODY_VAULT_CLIENT_KEY"},
	}
	flagMasterSecret = &cli.StringFlag{
		Name:    "master-secret",
		Usage:   "hex or base64 deployment secret the at-rest key is derived from",
		EnvVars: []string{"CUSTODY_MASTER_SECRET"},
	}
	flagMasterShare = &cli.StringSliceFlag{
		Name:  "master-share",
		Usage: "hex or base64 share of the deployment secret (repeatable)",
	}
	flagMasterThreshold = &cli.IntFlag{
		Name:  "master-threshold",
		Value: 2,
		Usage: "number of master shares needed to recover the deployment secret",
	}
	flagAdminKeysFile = &cli.StringFlag{
		Name:  "admin-keys-file",
		Usage: "JSON file with admin public keys; the server starts locked until the admins submit their shares",
	}
	flagUnlockTimeout = &cli.DurationFlag{
		Name:  "unlock-timeout",
		Value: 30 * time.Minute,
		Usage: "how long to wait for admins to unlock the server",
	}
	flagKDF = &cli.StringFlag{
		Name:  "kdf",
		Value: string(kms.KDFPBKDF2),
		Usage: "at-rest key derivation: pbkdf2 or argon2id",
	}
	flagKDFSalt = &cli.StringFlag{
		Name:    "kdf-salt",
		Usage:   "deployment specific key derivation salt",
		EnvVars: []string{"CUSTODY_KDF_SALT"},
	}
	flagKDFIterations = &cli.IntFlag{
		Name:  "kdf-iterations",
		Value: kms.DefaultIterations,
		Usage: "PBKDF2 iteration count",
	}
	flagEthRPC = &cli.StringFlag{
		Name:    "eth-rpc",
		Usage:   "Ethereum JSON-RPC endpoint",
		EnvVars: []string{"CUSTODY_ETH_RPC"},
	}
	flagEthChainID = &cli.Uint64Flag{
		Name:  "eth-chain-id",
		Value: 1,
		Usage: "EIP-155 chain id transactions are signed for",
	}
	flagBtcRPCHost = &cli.StringFlag{
		Name:    "btc-rpc-host",
		Usage:   "Bitcoin node RPC host:port",
		EnvVars: []string{"CUSTODY_BTC_RPC_HOST"},
	}
	flagBtcRPCUser = &cli.StringFlag{
		Name:    "btc-rpc-user",
		EnvVars: []string{"CUSTODY_BTC_RPC_USER"},
	}
	flagBtcRPCPass = &cli.StringFlag{
		Name:    "btc-rpc-pass",
		EnvVars: []string{"CUSTODY_BTC_RPC_PASS"},
	}
	flagBtcRPCTLS = &cli.BoolFlag{
		Name:  "btc-rpc-tls",
		Usage: "use TLS for the Bitcoin RPC connection",
	}
	flagBtcNetwork = &cli.StringFlag{
		Name:  "btc-network",
		Value: "testnet3",
		Usage: "mainnet, testnet3, regtest, signet or simnet",
	}
	flagBtcFallbackFee = &cli.Int64Flag{
		Name:  "btc-fallback-fee",
		Value: 10,
		Usage: "sat/vB used when the node has no fee estimate",
	}
	flagGuard = &cli.StringFlag{
		Name:  "completion-guard",
		Value: "none",
		Usage: "single completion per artifact: none, memory or redis",
	}
	flagGuardRedisURL = &cli.StringFlag{
		Name:    "guard-redis-url",
		Usage:   "redis URL for the redis completion guard",
		EnvVars: []string{"CUSTODY_GUARD_REDIS_URL"},
	}
	flagGuardTTL = &cli.DurationFlag{
		Name:  "guard-ttl",
		Value: 24 * time.Hour,
		Usage: "how long a completion claim is held",
	}
)

func main() {
	app := &cli.App{
		Name:    "custody-server",
		Usage:   "Serve the threshold custody API",
		Version: common.Version,
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flagStorage,
			flagStorageMinWrites,
			flagVaultClientCert,
			flagVaultClientKey,
			flagMasterSecret,
			flagMasterShare,
			flagMasterThreshold,
			flagAdminKeysFile,
			flagUnlockTimeout,
			flagKDF,
			flagKDFSalt,
			flagKDFIterations,
			flagEthRPC,
			flagEthChainID,
			flagBtcRPCHost,
			flagBtcRPCUser,
			flagBtcRPCPass,
			flagBtcRPCTLS,
			flagBtcNetwork,
			flagBtcFallbackFee,
			flagGuard,
			flagGuardRedisURL,
			flagGuardTTL,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger)

	btcNet, err := bitcoinParams(cCtx.String(flagBtcNetwork.Name))
	if err != nil {
		return err
	}
	chainID, err := ethereumChainID(cCtx)
	if err != nil {
		return err
	}
	guard, err := completionGuard(cCtx.String(flagGuard.Name), cCtx.String(flagGuardRedisURL.Name), cCtx.Duration(flagGuardTTL.Name))
	if err != nil {
		return err
	}

	// Storage and chains do not depend on the deployment secret
	store, err := openWalletStore(cCtx, logger)
	if err != nil {
		logger.Error("Failed to open storage", "err", err)
		return err
	}
	gateways, closeGateways, err := dialGateways(cCtx.Context, cCtx, btcNet, logger)
	if err != nil {
		logger.Error("Failed to connect to chain node", "err", err)
		return err
	}
	defer closeGateways()

	secret, err := masterSecretFromFlags(cCtx.String(flagMasterSecret.Name), cCtx.StringSlice(flagMasterShare.Name), cCtx.Int(flagMasterThreshold.Name))
	if err != nil {
		return err
	}

	var admin *httpserver.AdminHandler
	if secret == nil {
		adminKeysFile := cCtx.String(flagAdminKeysFile.Name)
		if adminKeysFile == "" {
			return errors.New("one of master-secret, master-share or admin-keys-file is required")
		}
		f, err := os.Open(adminKeysFile)
		if err != nil {
			logger.Error("Failed to open admin keys file", "err", err)
			return err
		}
		adminKeys, err := httpserver.LoadAdminKeys(f)
		f.Close()
		if err != nil {
			logger.Error("Failed to load admin keys", "err", err)
			return err
		}
		logger.Info("Admin keys loaded successfully", "count", len(adminKeys))

		admin, err = httpserver.NewAdminHandler(logger, adminKeys, cCtx.Int(flagMasterThreshold.Name))
		if err != nil {
			return err
		}
	}

	server, err := httpserver.New(cfg, admin)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()

	if admin != nil {
		logger.Info("Waiting for admins to unlock the deployment secret", "timeout", cCtx.Duration(flagUnlockTimeout.Name))
		ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagUnlockTimeout.Name))
		unlocked, err := admin.WaitForUnlock(ctx)
		cancel()
		if err != nil {
			logger.Error("Unlock failed", "err", err)
			return err
		}
		secret, err = unlocked.MasterSecret()
		if err != nil {
			return err
		}
	}

	kmsCfg, err := kmsConfigFromFlags(cCtx, secret)
	if err != nil {
		return err
	}
	provider, err := kms.Init(kmsCfg)
	for i := range secret {
		secret[i] = 0
	}
	if err != nil {
		logger.Error("Failed to initialize crypto provider", "err", err)
		return err
	}

	deriver := keys.NewDeriver(btcNet)
	vault := sharevault.New(store, provider, logger)
	protocol, err := cosign.New(cosign.Config{
		Credentials:     store,
		Shares:          vault,
		Gateways:        gateways,
		Deriver:         deriver,
		EthereumChainID: chainID,
		Guard:           guard,
		Log:             logger,
	})
	if err != nil {
		return err
	}
	service, err := wallet.New(wallet.Config{
		Store:    store,
		Vault:    vault,
		Protocol: protocol,
		Deriver:  deriver,
		Metrics:  server.Metrics(),
		Log:      logger,
	})
	if err != nil {
		return err
	}

	server.SetWalletHandler(httpserver.NewHandler(service, logger))
	logger.Info("Custody server is fully operational", "kdf", provider.KDF())

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")
	return nil
}
