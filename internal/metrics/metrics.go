// Package metrics exposes Prometheus instrumentation for catalog and vault
// operations. Nothing is registered until InitMetrics is called, so libraries
// and tests that never call it pay no registration cost.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Calling conventions recorded in the mode label.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

var (
	catalogOperationsTotal *prometheus.CounterVec
	vaultOperationsTotal   *prometheus.CounterVec
	vaultOperationDuration *prometheus.HistogramVec
	orphanedMaterialTotal  *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Recorder provides methods to record seccat metrics.
type Recorder struct{}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all collectors with the default registry.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		catalogOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccat_catalog_operations_total",
				Help: "Total number of catalog metadata operations",
			},
			[]string{"op", "outcome"},
		)

		vaultOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccat_vault_operations_total",
				Help: "Total number of vault material operations",
			},
			[]string{"op", "mode", "outcome"},
		)

		vaultOperationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seccat_vault_operation_duration_seconds",
				Help:    "Duration of vault material operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		)

		orphanedMaterialTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seccat_orphaned_material_total",
				Help: "Vault material left behind by a delete or a rolled back create",
			},
			[]string{"outcome"},
		)

		metricsRegistered.Store(true)
	})
}

// CatalogOperation records one catalog or type registry operation.
func (r *Recorder) CatalogOperation(op, outcome string) {
	if !metricsRegistered.Load() || catalogOperationsTotal == nil {
		return
	}
	catalogOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// VaultOperation records one vault call and its latency.
func (r *Recorder) VaultOperation(op, mode, outcome string, durationSeconds float64) {
	if !metricsRegistered.Load() {
		return
	}

	if vaultOperationsTotal != nil {
		vaultOperationsTotal.WithLabelValues(op, mode, outcome).Inc()
	}

	if vaultOperationDuration != nil {
		vaultOperationDuration.WithLabelValues(op).Observe(durationSeconds)
	}
}

// OrphanedMaterial records vault material that could not be removed.
func (r *Recorder) OrphanedMaterial(outcome string) {
	if !metricsRegistered.Load() || orphanedMaterialTotal == nil {
		return
	}
	orphanedMaterialTotal.WithLabelValues(outcome).Inc()
}

// GetCatalogOperationsTotal returns the catalog counter for testing.
func GetCatalogOperationsTotal() *prometheus.CounterVec {
	return catalogOperationsTotal
}

// GetVaultOperationsTotal returns the vault counter for testing.
func GetVaultOperationsTotal() *prometheus.CounterVec {
	return vaultOperationsTotal
}

// GetOrphanedMaterialTotal returns the orphaned material counter for testing.
func GetOrphanedMaterialTotal() *prometheus.CounterVec {
	return orphanedMaterialTotal
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered.Load()
}
