package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWallets struct {
	mock.Mock
}

func (m *mockWallets) CreateWallet(ctx context.Context, threshold, totalShares int, chain interfaces.Chain) (*interfaces.WalletCredential, error) {
	args := m.Called(ctx, threshold, totalShares, chain)
	cred, _ := args.Get(0).(*interfaces.WalletCredential)
	return cred, args.Error(1)
}

func (m *mockWallets) GetPublicInfo(ctx context.Context, walletID string) (*interfaces.PublicInfo, error) {
	args := m.Called(ctx, walletID)
	info, _ := args.Get(0).(*interfaces.PublicInfo)
	return info, args.Error(1)
}

func (m *mockWallets) InitiateTransaction(ctx context.Context, walletID, from, to string, amount *big.Int, participant int) (*cosign.Artifact, error) {
	args := m.Called(ctx, walletID, from, to, amount, participant)
	art, _ := args.Get(0).(*cosign.Artifact)
	return art, args.Error(1)
}

func (m *mockWallets) CompleteTransaction(ctx context.Context, art *cosign.Artifact, secondParticipant int, additional ...int) (interfaces.TransactionID, *cosign.Artifact, error) {
	args := m.Called(ctx, art, secondParticipant, additional)
	out, _ := args.Get(1).(*cosign.Artifact)
	return args.Get(0).(interfaces.TransactionID), out, args.Error(2)
}

func (m *mockWallets) RebroadcastTransaction(ctx context.Context, art *cosign.Artifact) (interfaces.TransactionID, *cosign.Artifact, error) {
	args := m.Called(ctx, art)
	out, _ := args.Get(1).(*cosign.Artifact)
	return args.Get(0).(interfaces.TransactionID), out, args.Error(2)
}

func (m *mockWallets) TransactionStatus(ctx context.Context, chain interfaces.Chain, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	args := m.Called(ctx, chain, txID)
	return args.Get(0).(interfaces.TxStatus), args.Error(1)
}

func (m *mockWallets) RevokeShare(ctx context.Context, walletID string, participant int) (bool, error) {
	args := m.Called(ctx, walletID, participant)
	return args.Bool(0), args.Error(1)
}

func newTestRouter(t *testing.T, wallets WalletService) http.Handler {
	t.Helper()
	h := NewHandler(wallets, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func sampleArtifact(state cosign.State) *cosign.Artifact {
	return &cosign.Artifact{
		WalletID:   "w1",
		Chain:      interfaces.ChainEthereum,
		From:       "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		To:         "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		Amount:     big.NewInt(1000),
		UnsignedTx: []byte{0xde, 0xad},
		Digest:     bytes.Repeat([]byte{0x11}, 32),
		FeeRate:    big.NewInt(7),
		State:      state,
	}
}

func TestHandleCreateWallet(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)

	cred := &interfaces.WalletCredential{
		WalletID:    "w1",
		Chain:       interfaces.ChainEthereum,
		Address:     "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		PublicKey:   "04abcd",
		Threshold:   2,
		TotalShares: 3,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	wallets.On("CreateWallet", mock.Anything, 2, 3, interfaces.ChainEthereum).Return(cred, nil)

	w := doRequest(t, router, http.MethodPost, "/api/wallets", api.CreateWalletRequest{Threshold: 2, TotalShares: 3, Chain: "eth"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[api.WalletResponse](t, w)
	assert.Equal(t, "w1", resp.WalletID)
	assert.Equal(t, "ethereum", resp.Chain)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.CreatedAt)
	wallets.AssertExpectations(t)
}

func TestHandleCreateWallet_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown chain", api.CreateWalletRequest{Threshold: 2, TotalShares: 3, Chain: "dogecoin"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"unknown field", `{"threshold":2,"total_shares":3,"chain":"eth","secret":"x"}`, http.StatusBadRequest},
		{"oversized body", `{"chain":"` + strings.Repeat("a", defaultMaxBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wallets := &mockWallets{}
			router := newTestRouter(t, wallets)

			w := doRequest(t, router, http.MethodPost, "/api/wallets", tc.body)
			assert.Equal(t, tc.status, w.Code)
			wallets.AssertNotCalled(t, "CreateWallet", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestErrorKindStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{interfaces.Validationf("threshold too low"), http.StatusBadRequest, "validation"},
		{interfaces.NotFoundf("wallet w1"), http.StatusNotFound, "not_found"},
		{interfaces.Cryptof("decrypt"), http.StatusUnprocessableEntity, "crypto"},
		{interfaces.Transmission(io.ErrUnexpectedEOF), http.StatusBadGateway, "transmission"},
		{interfaces.ErrConflict, http.StatusConflict, "conflict"},
		{interfaces.Internal("put credential", io.EOF), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			wallets := &mockWallets{}
			router := newTestRouter(t, wallets)
			wallets.On("GetPublicInfo", mock.Anything, "w1").Return(nil, tc.err)

			w := doRequest(t, router, http.MethodGet, "/api/wallets/w1", nil)
			assert.Equal(t, tc.status, w.Code)

			resp := decodeBody[api.ErrorResponse](t, w)
			assert.Equal(t, tc.kind, resp.Kind)
			if tc.kind == "internal" {
				assert.Equal(t, "internal server error", resp.Error)
			} else {
				assert.Equal(t, tc.err.Error(), resp.Error)
			}
		})
	}
}

func TestHandleGetWallet(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)
	info := &interfaces.PublicInfo{
		WalletID:       "w1",
		Chain:          interfaces.ChainEthereum,
		Address:        "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		PublicKey:      "04abcd",
		DerivationPath: "m/44'/60'/0'/0/0",
		Threshold:      2,
		TotalShares:    3,
	}
	wallets.On("GetPublicInfo", mock.Anything, "w1").Return(info, nil)

	w := doRequest(t, router, http.MethodGet, "/api/wallets/w1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, *info, decodeBody[interfaces.PublicInfo](t, w))
}

func TestHandleInitiateTransaction(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)
	art := sampleArtifact(cosign.StatePartiallyAuthorized)

	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	wallets.On("InitiateTransaction", mock.Anything, "w1", "", art.To, huge, 0).Return(art, nil)

	w := doRequest(t, router, http.MethodPost, "/api/wallets/w1/transactions", api.InitiateTransactionRequest{
		To:          art.To,
		Amount:      "123456789012345678901234567890",
		Participant: 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decodeBody[cosign.Artifact](t, w)
	assert.Equal(t, art.Digest, got.Digest)
	assert.Equal(t, cosign.StatePartiallyAuthorized, got.State)
	wallets.AssertExpectations(t)
}

func TestHandleInitiateTransaction_BadAmount(t *testing.T) {
	for _, amount := range []string{"", "1.5", "0x10", "ten"} {
		t.Run(amount, func(t *testing.T) {
			wallets := &mockWallets{}
			router := newTestRouter(t, wallets)

			w := doRequest(t, router, http.MethodPost, "/api/wallets/w1/transactions", api.InitiateTransactionRequest{
				To:     "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
				Amount: amount,
			})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			wallets.AssertNotCalled(t, "InitiateTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleCompleteTransaction(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		wallets := &mockWallets{}
		router := newTestRouter(t, wallets)
		finalized := sampleArtifact(cosign.StateFinalized)
		finalized.TxID = "0xabc"

		wallets.On("CompleteTransaction", mock.Anything, mock.Anything, 1, []int{2}).
			Return(interfaces.TransactionID("0xabc"), finalized, nil)

		w := doRequest(t, router, http.MethodPost, "/api/transactions/complete", api.CompleteTransactionRequest{
			Artifact:               sampleArtifact(cosign.StatePartiallyAuthorized),
			SecondParticipant:      1,
			AdditionalParticipants: []int{2},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decodeBody[api.TransactionResponse](t, w)
		assert.Equal(t, interfaces.TransactionID("0xabc"), resp.TxID)
		assert.Equal(t, cosign.StateFinalized, resp.Artifact.State)

		sent := wallets.Calls[0].Arguments.Get(1).(*cosign.Artifact)
		assert.Equal(t, "w1", sent.WalletID)
		assert.Equal(t, big.NewInt(1000), sent.Amount)
	})

	t.Run("transmission failure returns finalized artifact", func(t *testing.T) {
		wallets := &mockWallets{}
		router := newTestRouter(t, wallets)
		finalized := sampleArtifact(cosign.StateFinalized)
		finalized.SignedTx = []byte{0x01, 0x02}

		wallets.On("CompleteTransaction", mock.Anything, mock.Anything, 1, []int(nil)).
			Return(interfaces.TransactionID("0xabc"), finalized, interfaces.Transmission(io.ErrUnexpectedEOF))

		w := doRequest(t, router, http.MethodPost, "/api/transactions/complete", api.CompleteTransactionRequest{
			Artifact:          sampleArtifact(cosign.StatePartiallyAuthorized),
			SecondParticipant: 1,
		})
		require.Equal(t, http.StatusBadGateway, w.Code)

		resp := decodeBody[api.ErrorResponse](t, w)
		assert.Equal(t, "transmission", resp.Kind)
		require.NotNil(t, resp.Artifact)
		assert.Equal(t, []byte{0x01, 0x02}, []byte(resp.Artifact.SignedTx))
	})

	t.Run("crypto failure returns failed artifact", func(t *testing.T) {
		wallets := &mockWallets{}
		router := newTestRouter(t, wallets)

		wallets.On("CompleteTransaction", mock.Anything, mock.Anything, 1, []int(nil)).
			Return(interfaces.TransactionID(""), sampleArtifact(cosign.StateFailed), interfaces.Cryptof("digest mismatch"))

		w := doRequest(t, router, http.MethodPost, "/api/transactions/complete", api.CompleteTransactionRequest{
			Artifact:          sampleArtifact(cosign.StatePartiallyAuthorized),
			SecondParticipant: 1,
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeBody[api.ErrorResponse](t, w)
		assert.Equal(t, cosign.StateFailed, resp.Artifact.State)
	})

	t.Run("missing artifact", func(t *testing.T) {
		wallets := &mockWallets{}
		router := newTestRouter(t, wallets)

		w := doRequest(t, router, http.MethodPost, "/api/transactions/complete", `{"second_participant":1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		wallets.AssertNotCalled(t, "CompleteTransaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHandleRebroadcast(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)
	finalized := sampleArtifact(cosign.StateFinalized)
	finalized.TxID = "0xabc"
	wallets.On("RebroadcastTransaction", mock.Anything, mock.Anything).Return(interfaces.TransactionID("0xabc"), finalized, nil)

	w := doRequest(t, router, http.MethodPost, "/api/transactions/rebroadcast", api.RebroadcastRequest{Artifact: finalized})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.TransactionID("0xabc"), decodeBody[api.TransactionResponse](t, w).TxID)

	w = doRequest(t, router, http.MethodPost, "/api/transactions/rebroadcast", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTransactionStatus(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)
	wallets.On("TransactionStatus", mock.Anything, interfaces.ChainBitcoin, interfaces.TransactionID("ff00")).
		Return(interfaces.TxStatusConfirmed, nil)

	w := doRequest(t, router, http.MethodGet, "/api/transactions/btc/ff00", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.TransactionStatusResponse{Chain: "bitcoin", TxID: "ff00", Status: interfaces.TxStatusConfirmed}, decodeBody[api.TransactionStatusResponse](t, w))

	w = doRequest(t, router, http.MethodGet, "/api/transactions/solana/ff00", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRevokeShare(t *testing.T) {
	wallets := &mockWallets{}
	router := newTestRouter(t, wallets)
	wallets.On("RevokeShare", mock.Anything, "w1", 2).Return(true, nil).Once()
	wallets.On("RevokeShare", mock.Anything, "w1", 2).Return(false, nil).Once()

	w := doRequest(t, router, http.MethodDelete, "/api/wallets/w1/shares/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[api.RevokeShareResponse](t, w).Revoked)

	w = doRequest(t, router, http.MethodDelete, "/api/wallets/w1/shares/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[api.RevokeShareResponse](t, w).Revoked)

	w = doRequest(t, router, http.MethodDelete, "/api/wallets/w1/shares/two", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	wallets.AssertNumberOfCalls(t, "RevokeShare", 2)
}
