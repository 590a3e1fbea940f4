package hashivault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/seccat/pkg/vault"
)

// fakeVault emulates the parts of the Vault HTTP API the backend uses: a KV v2
// mount at secret/, a KV v1 mount at kv/ and token lookup-self. Like a real
// KV mount it stores material by request path only; any isolation between
// tokens comes from the paths the backend sends.
type fakeVault struct {
	mu         sync.Mutex
	entities   map[string]string // token -> entity id; unknown tokens are denied
	readDenied map[string]bool   // tokens whose policy lacks read on the mounts
	data       map[string]map[string]interface{}
	requests   []string
	namespace  string
	failPaths  map[string]int // path prefix -> status to return
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		entities: map[string]string{
			"tok-alice":         "ent-alice",
			"tok-alice-deleter": "ent-alice",
			"tok-bob":           "ent-bob",
			"tok-anon":          "",
		},
		readDenied: map[string]bool{"tok-alice-deleter": true},
		data:       make(map[string]map[string]interface{}),
		failPaths:  make(map[string]int),
	}
}

func (f *fakeVault) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	f.requests = append(f.requests, r.Method+" "+path)
	f.namespace = r.Header.Get("X-Vault-Namespace")

	token := r.Header.Get("X-Vault-Token")
	entity, known := f.entities[token]
	denied := func() { f.writeJSON(w, http.StatusForbidden, map[string]interface{}{"errors": []string{"permission denied"}}) }
	if !known {
		denied()
		return
	}
	for prefix, status := range f.failPaths {
		if strings.HasPrefix(path, prefix) {
			f.writeJSON(w, status, map[string]interface{}{"errors": []string{"internal error"}})
			return
		}
	}

	if path == "auth/token/lookup-self" {
		f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"entity_id": entity, "policies": []string{"default"}}})
		return
	}
	if r.Method == http.MethodGet && f.readDenied[token] {
		denied()
		return
	}

	notFound := func() { f.writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}}) }

	switch {
	case strings.HasPrefix(path, "secret/data/"):
		key := strings.TrimPrefix(path, "secret/data/")
		switch r.Method {
		case http.MethodGet:
			stored, ok := f.data[key]
			if !ok {
				notFound()
				return
			}
			f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
				"data":     stored,
				"metadata": map[string]interface{}{"version": 1},
			}})
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.data[key] = body.Data
			f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"version": 1}})
		}
	case strings.HasPrefix(path, "secret/metadata/"):
		key := strings.TrimPrefix(path, "secret/metadata/")
		switch r.Method {
		case http.MethodGet:
			if _, ok := f.data[key]; !ok {
				notFound()
				return
			}
			f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"current_version": 1}})
		case http.MethodDelete:
			delete(f.data, key)
			w.WriteHeader(http.StatusNoContent)
		}
	case strings.HasPrefix(path, "kv/"):
		key := strings.TrimPrefix(path, "kv/")
		switch r.Method {
		case http.MethodGet:
			stored, ok := f.data[key]
			if !ok {
				notFound()
				return
			}
			f.writeJSON(w, http.StatusOK, map[string]interface{}{"data": stored})
		case http.MethodPut, http.MethodPost:
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.data[key] = body
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			delete(f.data, key)
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		notFound()
	}
}

func (f *fakeVault) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.data))
	for k := range f.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newBackend(t *testing.T, fake *fakeVault, cfg Config) *Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg.Address = srv.URL
	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Address: "http://127.0.0.1:8200", KVVersion: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kv_version")

	b, err := New(Config{Address: "http://127.0.0.1:8200"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMount, b.config.Mount)
	assert.Equal(t, DefaultKVVersion, b.config.KVVersion)
	assert.Equal(t, "hashicorp", b.Name())
	assert.Equal(t, 0, b.client.CloneConfig().MaxRetries)
}

func TestKVRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "kv v2", cfg: Config{}},
		{name: "kv v1", cfg: Config{Mount: "kv", KVVersion: 1}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			b := newBackend(t, newFakeVault(), tt.cfg)

			_, err := b.Read(ctx, "tok-alice", "type/secret")
			assert.ErrorIs(t, err, vault.ErrNotFound)

			require.NoError(t, b.Write(ctx, "tok-alice", "type/secret", vault.Fields{"k": "v", "port": 5432}))

			got, err := b.Read(ctx, "tok-alice", "type/secret")
			require.NoError(t, err)
			assert.Equal(t, vault.Fields{"k": "v", "port": int64(5432)}, got)

			require.NoError(t, b.Delete(ctx, "tok-alice", "type/secret"))
			_, err = b.Read(ctx, "tok-alice", "type/secret")
			assert.ErrorIs(t, err, vault.ErrNotFound)

			assert.ErrorIs(t, b.Delete(ctx, "tok-alice", "type/secret"), vault.ErrNotFound)
		})
	}
}

func TestTenantsWriteDistinctKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      Config
		wantKeys []string
	}{
		{name: "kv v2", cfg: Config{}, wantKeys: []string{"ent-alice/type/secret", "ent-bob/type/secret"}},
		{name: "kv v1", cfg: Config{Mount: "kv", KVVersion: 1}, wantKeys: []string{"ent-alice/type/secret", "ent-bob/type/secret"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := newFakeVault()
			b := newBackend(t, fake, tt.cfg)

			require.NoError(t, b.Write(ctx, "tok-alice", "type/secret", vault.Fields{"pw": "alice-secret"}))

			_, err := b.Read(ctx, "tok-bob", "type/secret")
			assert.ErrorIs(t, err, vault.ErrNotFound)
			assert.ErrorIs(t, b.Delete(ctx, "tok-bob", "type/secret"), vault.ErrNotFound)

			require.NoError(t, b.Write(ctx, "tok-bob", "type/secret", vault.Fields{"pw": "bob-secret"}))
			assert.Equal(t, tt.wantKeys, fake.keys())

			got, err := b.Read(ctx, "tok-alice", "type/secret")
			require.NoError(t, err)
			assert.Equal(t, "alice-secret", got["pw"])
		})
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("forbidden token", func(t *testing.T) {
		t.Parallel()
		b := newBackend(t, newFakeVault(), Config{})
		_, err := b.Read(ctx, "tok-stranger", "type/secret")
		assert.ErrorIs(t, err, vault.ErrPermissionDenied)
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		fake := newFakeVault()
		fake.failPaths["secret/data/"] = http.StatusInternalServerError
		b := newBackend(t, fake, Config{})

		err := b.Write(ctx, "tok-alice", "type/secret", vault.Fields{"k": "v"})
		assert.ErrorIs(t, err, vault.ErrVaultUnavailable)
	})

	t.Run("sealed vault", func(t *testing.T) {
		t.Parallel()
		fake := newFakeVault()
		fake.failPaths["secret/"] = http.StatusServiceUnavailable
		b := newBackend(t, fake, Config{})

		_, err := b.Read(ctx, "tok-alice", "type/secret")
		assert.ErrorIs(t, err, vault.ErrVaultUnavailable)
		assert.True(t, vault.IsRetryable(err))
	})

	t.Run("network failure", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(newFakeVault())
		addr := srv.URL
		srv.Close()

		b, err := New(Config{Address: addr})
		require.NoError(t, err)
		_, err = b.Read(ctx, "tok-alice", "type/secret")
		assert.ErrorIs(t, err, vault.ErrVaultUnavailable)
	})
}

func TestTokenWithoutEntityIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeVault()
	b := newBackend(t, fake, Config{})

	err := b.Write(ctx, "tok-anon", "type/secret", vault.Fields{"k": "v"})
	assert.ErrorIs(t, err, vault.ErrPermissionDenied)
	assert.Empty(t, fake.keys())
}

func TestDeleteWithoutReadPermission(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeVault()
	b := newBackend(t, fake, Config{})

	require.NoError(t, b.Write(ctx, "tok-alice", "type/secret", vault.Fields{"k": "v"}))

	_, err := b.Read(ctx, "tok-alice-deleter", "type/secret")
	assert.ErrorIs(t, err, vault.ErrPermissionDenied)

	require.NoError(t, b.Delete(ctx, "tok-alice-deleter", "type/secret"))
	assert.Empty(t, fake.keys())
}

func TestNamespaceHeader(t *testing.T) {
	t.Parallel()
	fake := newFakeVault()
	b := newBackend(t, fake, Config{Namespace: "tenants/acme"})

	_, _ = b.Read(context.Background(), "tok-alice", "type/secret")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "tenants/acme", fake.namespace)
}
