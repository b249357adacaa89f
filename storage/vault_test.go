package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is a minimal KV v2 server.
type fakeKV struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	sealed  bool
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/sys/health" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"initialized": true,
			"sealed":      f.sealed,
			"standby":     false,
		})
		return
	}

	if r.Header.Get("X-Vault-Token") != "test-token" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch r.Method {
	case http.MethodGet:
		data, ok := f.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[path] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"version": 1},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestVaultBackend(t *testing.T) {
	kv := &fakeKV{secrets: make(map[string]map[string]interface{})}
	server := httptest.NewServer(kv)
	defer server.Close()

	backend, err := NewVaultBackend(server.URL, "secret", "custody", VaultAuth{Token: "test-token"}, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))

	_, err = backend.Fetch(ctx, "wallets/w1")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	payload := []byte{0x00, 0xff, 0x10, '{'}
	require.NoError(t, backend.Store(ctx, "wallets/w1", payload))

	kv.mu.Lock()
	_, stored := kv.secrets["secret/data/custody/wallets/w1"]
	kv.mu.Unlock()
	assert.True(t, stored, "secret written below the KV v2 data path")

	got, err := backend.Fetch(ctx, "wallets/w1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	kv.mu.Lock()
	kv.sealed = true
	kv.mu.Unlock()
	assert.False(t, backend.Available(ctx))

	assert.Equal(t, "vault-secret-custody", backend.Name())
}

func TestVaultBackend_Forbidden(t *testing.T) {
	kv := &fakeKV{secrets: make(map[string]map[string]interface{})}
	server := httptest.NewServer(kv)
	defer server.Close()

	backend, err := NewVaultBackend(server.URL, "secret", "", VaultAuth{Token: "wrong"}, testLogger())
	require.NoError(t, err)

	err = backend.Store(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}
