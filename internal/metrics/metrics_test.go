package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics(t *testing.T) {
	// InitMetrics uses sync.Once; every test below relies on it being idempotent
	InitMetrics()
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetCatalogOperationsTotal())
	assert.NotNil(t, GetVaultOperationsTotal())
	assert.NotNil(t, GetOrphanedMaterialTotal())
}

func TestRecorder_CatalogOperation(t *testing.T) {
	InitMetrics()

	counter := GetCatalogOperationsTotal().WithLabelValues("rename", "test_outcome")
	before := testutil.ToFloat64(counter)

	NewRecorder().CatalogOperation("rename", "test_outcome")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecorder_VaultOperation(t *testing.T) {
	InitMetrics()

	counter := GetVaultOperationsTotal().WithLabelValues("read", ModeAsync, "test_outcome")
	before := testutil.ToFloat64(counter)

	NewRecorder().VaultOperation("read", ModeAsync, "test_outcome", 0.02)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecorder_OrphanedMaterial(t *testing.T) {
	InitMetrics()

	counter := GetOrphanedMaterialTotal().WithLabelValues("test_unavailable")
	before := testutil.ToFloat64(counter)

	NewRecorder().OrphanedMaterial("test_unavailable")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecorder_ConcurrentWithInit(t *testing.T) {
	r := NewRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			InitMetrics()
		}()
		go func() {
			defer wg.Done()
			r.VaultOperation("write", ModeAsync, "race_outcome", 0.01)
			r.OrphanedMaterial("race_outcome")
		}()
	}
	wg.Wait()

	assert.True(t, IsMetricsRegistered())
}

func TestServer_Handler(t *testing.T) {
	InitMetrics()
	NewRecorder().CatalogOperation("create", "ok")

	srv := NewServer(DefaultServerConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "seccat_catalog_operations_total")

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = health.Body.Close() }()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	srv := NewServer(DefaultServerConfig())
	require.NoError(t, srv.Start())
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Enabled = true
	cfg.Listen = "127.0.0.1:0"

	srv := NewServer(cfg)
	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, srv.Stop(context.Background()))
}
