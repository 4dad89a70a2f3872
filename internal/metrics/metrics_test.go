package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.Counter.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.BlocksDecompressedTotal)
	assert.NotNil(t, r.SchemaLookupsTotal)
	assert.NotNil(t, r.ObjectsDecodedTotal)
	assert.NotNil(t, r.GetPrometheusRegistry())
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestRecordBlock(t *testing.T) {
	r := NewRegistry()
	r.RecordBlock("lz4", 100, 300)
	r.RecordBlock("lz4", 50, 200)
	r.RecordBlock("lzma", 10, 20)

	assert.Equal(t, 2.0, counterValue(t, r.BlocksDecompressedTotal.WithLabelValues("lz4")))
	assert.Equal(t, 160.0, counterValue(t, r.BlockBytesTotal.WithLabelValues("compressed")))
	assert.Equal(t, 520.0, counterValue(t, r.BlockBytesTotal.WithLabelValues("uncompressed")))
}

func TestRecordSchemaAndObjects(t *testing.T) {
	r := NewRegistry()
	r.RecordSchemaLookup("hit")
	r.RecordSchemaLookup("hit")
	r.RecordSchemaLookup("unavailable")
	r.RecordObjectDecode("typed", "fallback")
	r.RecordBundle("UnityFS", "parse")

	assert.Equal(t, 2.0, counterValue(t, r.SchemaLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, counterValue(t, r.SchemaLookupsTotal.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, counterValue(t, r.ObjectsDecodedTotal.WithLabelValues("typed", "fallback")))
	assert.Equal(t, 1.0, counterValue(t, r.BundlesTotal.WithLabelValues("UnityFS", "parse")))

	families, err := r.GetPrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordBlock("lz4", 1, 2)
		r.RecordBundle("UnityFS", "save")
		r.RecordSchemaLookup("miss")
		r.RecordObjectDecode("generic", "ok")
	})
}
