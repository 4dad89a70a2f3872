package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initBundleMetrics() {
	r.BlocksDecompressedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "unityfs_blocks_decompressed_total",
			Help: "Total number of bundle blocks decompressed",
		},
		[]string{"algorithm"}, // none, lzma, lz4, lz4hc, lz4ak
	)

	r.BlockBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "unityfs_block_bytes_total",
			Help: "Total bytes moved through the block codec",
		},
		[]string{"direction"}, // compressed, uncompressed
	)

	r.BundlesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "unityfs_bundles_total",
			Help: "Total number of bundles parsed or saved",
		},
		[]string{"signature", "operation"},
	)
}

func (r *Registry) initSchemaMetrics() {
	r.SchemaLookupsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "unityfs_schema_lookups_total",
			Help: "Total number of type tree lookups in the schema database",
		},
		[]string{"result"}, // hit, miss, unavailable
	)
}

func (r *Registry) initObjectMetrics() {
	r.ObjectsDecodedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "unityfs_objects_decoded_total",
			Help: "Total number of objects decoded",
		},
		[]string{"mode", "result"}, // mode: generic, typed; result: ok, fallback, error
	)
}
