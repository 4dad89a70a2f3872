package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the codec layers. A nil *Registry is valid
// and records nothing.
type Registry struct {
	// Bundle Metrics
	BlocksDecompressedTotal *prometheus.CounterVec
	BlockBytesTotal         *prometheus.CounterVec
	BundlesTotal            *prometheus.CounterVec

	// Schema Metrics
	SchemaLookupsTotal *prometheus.CounterVec

	// Object Metrics
	ObjectsDecodedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initBundleMetrics()
	r.initSchemaMetrics()
	r.initObjectMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
