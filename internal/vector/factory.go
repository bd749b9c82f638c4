package vector

import "fmt"

// IndexType represents the engine implementation.
type IndexType string

const (
	// IndexTypeHNSW is the approximate graph engine used in production.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeFlat scans every node. Exact, and fine for small collections and tests.
	IndexTypeFlat IndexType = "flat"
)

// New creates an empty engine of opts.Type. Supported types: "hnsw" (default), "flat".
func New(opts Options) (Engine, error) {
	switch opts.Type {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(opts)
	case IndexTypeFlat:
		return NewFlatIndex(opts)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, flat)", opts.Type)
	}
}
