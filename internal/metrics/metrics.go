package metrics

// RecordBlock records one decompressed bundle block
func (r *Registry) RecordBlock(algorithm string, compressed, uncompressed int) {
	if r == nil {
		return
	}
	r.BlocksDecompressedTotal.WithLabelValues(algorithm).Inc()
	r.BlockBytesTotal.WithLabelValues("compressed").Add(float64(compressed))
	r.BlockBytesTotal.WithLabelValues("uncompressed").Add(float64(uncompressed))
}

// RecordBundle records a bundle parse or save
func (r *Registry) RecordBundle(signature, operation string) {
	if r == nil {
		return
	}
	r.BundlesTotal.WithLabelValues(signature, operation).Inc()
}

// RecordSchemaLookup records a schema database lookup
func (r *Registry) RecordSchemaLookup(result string) {
	if r == nil {
		return
	}
	r.SchemaLookupsTotal.WithLabelValues(result).Inc()
}

// RecordObjectDecode records an object decode
func (r *Registry) RecordObjectDecode(mode, result string) {
	if r == nil {
		return
	}
	r.ObjectsDecodedTotal.WithLabelValues(mode, result).Inc()
}
