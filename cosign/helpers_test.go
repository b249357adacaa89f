package cosign

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ruteri/mpc-custody/chain"
	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
	"github.com/ruteri/mpc-custody/kms"
	"github.com/ruteri/mpc-custody/shamir"
	"github.com/ruteri/mpc-custody/sharevault"
	"github.com/ruteri/mpc-custody/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testRecipient = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store   *storage.RecordStore
	vault   *sharevault.Vault
	deriver *keys.Deriver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	provider, err := kms.NewProvider(kms.Config{
		MasterSecret: []byte("cosign-test-secret"),
		Salt:         []byte("cosign-test-salt"),
		Iterations:   1000,
	})
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	return &testEnv{
		store:   store,
		vault:   sharevault.New(store, provider, testLogger()),
		deriver: keys.NewDeriver(&chaincfg.TestNet3Params),
	}
}

func (e *testEnv) protocol(t *testing.T, gateways map[interfaces.Chain]interfaces.ChainGateway, guard interfaces.CompletionGuard, chainID *big.Int) *Protocol {
	t.Helper()
	p, err := New(Config{
		Credentials:     e.store,
		Shares:          e.vault,
		Gateways:        gateways,
		Deriver:         e.deriver,
		EthereumChainID: chainID,
		Guard:           guard,
		Log:             testLogger(),
	})
	require.NoError(t, err)
	return p
}

// ethereumWallet splits a fresh key into n shares and stores the wallet.
func (e *testEnv) ethereumWallet(t *testing.T, walletID string, n, threshold int) *ecdsa.PrivateKey {
	t.Helper()
	ctx := context.Background()

	key, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	shares, err := shamir.Split(field.Secp256k1, keys.Scalar(key), n, threshold)
	require.NoError(t, err)
	for i, s := range shares {
		_, err := e.vault.Store(ctx, walletID, i, s, nil)
		require.NoError(t, err)
	}

	addr, err := e.deriver.DeriveAddress(&key.PublicKey, interfaces.ChainEthereum)
	require.NoError(t, err)
	require.NoError(t, e.store.PutCredential(ctx, &interfaces.WalletCredential{
		WalletID:    walletID,
		Chain:       interfaces.ChainEthereum,
		Protocol:    interfaces.ProtocolThreshold,
		PublicKey:   keys.UncompressedHex(&key.PublicKey),
		Address:     addr,
		Threshold:   threshold,
		TotalShares: n,
		Status:      interfaces.StatusActive,
		CreatedAt:   time.Now().UTC(),
	}))
	return key
}

// bitcoinWallet creates n independent keys behind a threshold-of-n P2SH script.
func (e *testEnv) bitcoinWallet(t *testing.T, walletID string, n, threshold int) *interfaces.WalletCredential {
	t.Helper()
	ctx := context.Background()

	pubs := make([]*ecdsa.PublicKey, n)
	participantKeys := make([]string, n)
	for i := 0; i < n; i++ {
		key, err := keys.GenerateKeyPair()
		require.NoError(t, err)
		pubs[i] = &key.PublicKey
		participantKeys[i] = keys.CompressedHex(&key.PublicKey)
		_, err = e.vault.Store(ctx, walletID, i, interfaces.SecretShare{X: i + 1, Y: keys.Scalar(key)}, nil)
		require.NoError(t, err)
	}

	script, err := e.deriver.MultisigScript(pubs, threshold)
	require.NoError(t, err)
	addr, err := e.deriver.MultisigAddress(script)
	require.NoError(t, err)

	cred := &interfaces.WalletCredential{
		WalletID:        walletID,
		Chain:           interfaces.ChainBitcoin,
		Protocol:        interfaces.ProtocolMultisig,
		PublicKey:       participantKeys[0],
		Address:         addr,
		Threshold:       threshold,
		TotalShares:     n,
		ParticipantKeys: participantKeys,
		RedeemScript:    hex.EncodeToString(script),
		Status:          interfaces.StatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, e.store.PutCredential(ctx, cred))
	return cred
}

func ethereumMock(gasPrice int64, nonce uint64) *chain.MockGateway {
	gw := &chain.MockGateway{}
	gw.On("EstimateFee", mock.Anything).Return(big.NewInt(gasPrice), nil)
	gw.On("GetInputs", mock.Anything, mock.Anything).Return(&interfaces.ChainInputs{Nonce: nonce}, nil)
	return gw
}
