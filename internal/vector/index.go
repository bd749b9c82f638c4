// Package vector provides the nearest-neighbor engines behind the similarity index
// and their two-file snapshot format.
package vector

import "errors"

// Engine limits used by the similarity index.
const (
	// MaxConnections is the per-layer link budget of the graph and also the
	// widest query the index answers.
	MaxConnections = 10
	// MaxElements is the hard capacity of one engine.
	MaxElements = 100_000
	// MaxLayers bounds the height of the graph.
	MaxLayers = 24
	// EfConstruction is the candidate list width used while inserting.
	EfConstruction = 400
)

var (
	// ErrCapacityExceeded is returned when an insert would exceed the engine capacity.
	ErrCapacityExceeded = errors.New("vector: index capacity exceeded")
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")
	// ErrEmptyVector is returned for zero-length vectors.
	ErrEmptyVector = errors.New("vector: vector cannot be empty")
	// ErrNoSnapshot is returned by Load when no companion files exist.
	ErrNoSnapshot = errors.New("vector: no snapshot")
	// ErrSnapshotMismatch is returned when the data and graph files do not belong together.
	ErrSnapshotMismatch = errors.New("vector: snapshot files do not match")
)

// Engine is a nearest-neighbor index over (vector, id) nodes ranked by cosine distance.
// Implementations are not safe for concurrent use; the similarity worker is the only owner.
type Engine interface {
	// Insert adds a node. Duplicate ids are allowed and produce distinct nodes.
	Insert(vector []float32, id int64) error
	// Search returns up to k candidates ordered by ascending distance.
	// ef bounds how much of the graph is explored.
	Search(query []float32, k, ef int) ([]Candidate, error)
	// Len returns the number of nodes.
	Len() int
	// Dimension returns the fixed vector length, or 0 before the first insert.
	Dimension() int
	// Type identifies the engine implementation.
	Type() IndexType
}

// Candidate is a single search hit.
type Candidate struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance"`
}

// Options configure a new engine.
type Options struct {
	Type           IndexType
	Dimension      int // 0 fixes the dimension on first insert
	MaxConnections int
	MaxElements    int
	MaxLayers      int
	EfConstruction int
	Seed           uint64 // 0 seeds from the clock
}

// DefaultOptions returns the options used by the similarity index.
func DefaultOptions() Options {
	return Options{
		Type:           IndexTypeHNSW,
		MaxConnections: MaxConnections,
		MaxElements:    MaxElements,
		MaxLayers:      MaxLayers,
		EfConstruction: EfConstruction,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Type == "" {
		o.Type = d.Type
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = d.MaxConnections
	}
	if o.MaxElements <= 0 {
		o.MaxElements = d.MaxElements
	}
	if o.MaxLayers <= 0 {
		o.MaxLayers = d.MaxLayers
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = d.EfConstruction
	}
	return o
}
