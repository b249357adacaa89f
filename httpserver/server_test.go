package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/api/clients"
	"github.com/ruteri/mpc-custody/chain"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
	"github.com/ruteri/mpc-custody/kms"
	"github.com/ruteri/mpc-custody/sharevault"
	"github.com/ruteri/mpc-custody/storage"
	"github.com/ruteri/mpc-custody/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testServerConfig() *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}
}

func newWalletService(t *testing.T, srv *Server, eth interfaces.ChainGateway) *wallet.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider, err := kms.NewProvider(kms.Config{
		MasterSecret: []byte("server-test-secret"),
		Salt:         []byte("server-test-salt"),
		Iterations:   1000,
	})
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	vault := sharevault.New(store, provider, logger)
	deriver := keys.NewDeriver(&chaincfg.TestNet3Params)
	protocol, err := cosign.New(cosign.Config{
		Credentials:     store,
		Shares:          vault,
		Gateways:        map[interfaces.Chain]interfaces.ChainGateway{interfaces.ChainEthereum: eth},
		Deriver:         deriver,
		EthereumChainID: big.NewInt(1337),
		Guard:           cosign.NewMemoryGuard(time.Minute),
		Log:             logger,
	})
	require.NoError(t, err)

	svc, err := wallet.New(wallet.Config{
		Store:    store,
		Vault:    vault,
		Protocol: protocol,
		Deriver:  deriver,
		Metrics:  srv.Metrics(),
		Log:      logger,
	})
	require.NoError(t, err)
	return svc
}

func TestServer_HealthAndDrain(t *testing.T) {
	srv, err := New(testServerConfig(), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	get := func(path string) int {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/livez"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"), "not ready without a wallet handler")
	assert.Equal(t, http.StatusServiceUnavailable, get("/api/wallets/w1"))
	assert.Equal(t, http.StatusNotFound, get("/admin/status"))

	srv.SetWalletHandler(NewHandler(&mockWallets{}, srv.log))
	assert.Equal(t, http.StatusOK, get("/readyz"))

	assert.Equal(t, http.StatusOK, get("/drain"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/undrain"))
	assert.Equal(t, http.StatusOK, get("/readyz"))

	assert.Error(t, srv.WaitForUnlock(context.Background()))
}

func TestServer_LockedUntilAdminsUnlock(t *testing.T) {
	adminPrivKeys, adminPubKeys := generateAdminKeyPairs(t, 2)
	admin, err := NewAdminHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), adminPubKeys, 2)
	require.NoError(t, err)

	srv, err := New(testServerConfig(), admin)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	shares := testMasterShares(t, 2, 2)
	ctx := context.Background()
	for i, id := range []string{"admin1", "admin2"} {
		_, err := clients.NewAdminClient(ts.URL+"/admin", id, adminPrivKeys[id]).SubmitShare(ctx, i, shares[i], nil)
		require.NoError(t, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, srv.WaitForUnlock(waitCtx))
}

func TestServer_WalletAPIEndToEnd(t *testing.T) {
	srv, err := New(testServerConfig(), nil)
	require.NoError(t, err)

	eth := &chain.MockGateway{}
	srv.SetWalletHandler(NewHandler(newWalletService(t, srv, eth), srv.log))
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	ctx := context.Background()
	client := clients.NewWalletClient(ts.URL)

	created, err := client.CreateWallet(ctx, 2, 3, interfaces.ChainEthereum)
	require.NoError(t, err)
	assert.Equal(t, 3, created.TotalShares)

	info, err := client.GetWallet(ctx, created.WalletID)
	require.NoError(t, err)
	assert.Equal(t, created.Address, info.Address)
	assert.Equal(t, keys.EthereumDerivationPath, info.DerivationPath)

	_, err = client.GetWallet(ctx, "missing")
	var apiErr *clients.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Kind)

	eth.On("EstimateFee", mock.Anything).Return(big.NewInt(1_000_000_000), nil)
	eth.On("GetInputs", mock.Anything, created.Address).Return(&interfaces.ChainInputs{Nonce: 0}, nil)
	eth.On("Broadcast", mock.Anything, mock.Anything).Return(interfaces.TransactionID(""), errors.New("node unavailable")).Once()
	eth.On("Broadcast", mock.Anything, mock.Anything).Return(interfaces.TransactionID(""), nil)

	art, err := client.InitiateTransaction(ctx, created.WalletID, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", big.NewInt(5000), 0)
	require.NoError(t, err)
	assert.Equal(t, cosign.StatePartiallyAuthorized, art.State)

	_, err = client.CompleteTransaction(ctx, art, 1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.NotNil(t, apiErr.Artifact)
	assert.Equal(t, cosign.StateFinalized, apiErr.Artifact.State)

	resp, err := client.Rebroadcast(ctx, apiErr.Artifact)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.TxID)
	assert.Equal(t, cosign.StateBroadcast, resp.Artifact.State)

	eth.On("GetStatus", mock.Anything, resp.TxID).Return(interfaces.TxStatusPending, nil)
	status, err := client.TransactionStatus(ctx, interfaces.ChainEthereum, resp.TxID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.TxStatusPending, status)

	revoked, err := client.RevokeShare(ctx, created.WalletID, 2)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = client.InitiateTransaction(ctx, created.WalletID, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", big.NewInt(5000), 2)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
