package vector

import (
	"fmt"
	"sort"
)

// FlatIndex is an exact brute-force engine. It scans every node on each query,
// which makes it the reference that graph results are checked against.
type FlatIndex struct {
	dimension   int
	maxElements int
	ids         []int64
	vectors     [][]float32
	norms       []float64
}

// NewFlatIndex creates an empty flat engine.
func NewFlatIndex(opts Options) (*FlatIndex, error) {
	opts = opts.withDefaults()
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative")
	}
	return &FlatIndex{
		dimension:   opts.Dimension,
		maxElements: opts.MaxElements,
		ids:         make([]int64, 0),
		vectors:     make([][]float32, 0),
		norms:       make([]float64, 0),
	}, nil
}

// Type returns the index type identifier.
func (f *FlatIndex) Type() IndexType {
	return IndexTypeFlat
}

// Insert appends a node.
func (f *FlatIndex) Insert(vector []float32, id int64) error {
	if err := checkInsert(vector, f.dimension, len(f.ids), f.maxElements); err != nil {
		return err
	}
	if f.dimension == 0 {
		f.dimension = len(vector)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, vec)
	f.norms = append(f.norms, L2Norm(vec))
	return nil
}

// Search returns the k nodes closest to query. ef is ignored.
func (f *FlatIndex) Search(query []float32, k, ef int) ([]Candidate, error) {
	if err := checkQuery(query, f.dimension); err != nil {
		return nil, err
	}
	if k <= 0 || len(f.ids) == 0 {
		return []Candidate{}, nil
	}
	qn := L2Norm(query)
	scored := make([]candidate, len(f.ids))
	for i, vec := range f.vectors {
		scored[i] = candidate{slot: uint32(i), dist: cosineDistance(query, vec, qn, f.norms[i])}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	if k > len(scored) {
		k = len(scored)
	}
	result := make([]Candidate, k)
	for i := 0; i < k; i++ {
		result[i] = Candidate{ID: f.ids[scored[i].slot], Distance: scored[i].dist}
	}
	return result, nil
}

// Len returns the number of nodes.
func (f *FlatIndex) Len() int {
	return len(f.ids)
}

// Dimension returns the vector length, or 0 before the first insert.
func (f *FlatIndex) Dimension() int {
	return f.dimension
}

func (f *FlatIndex) node(i int) (int64, []float32) {
	return f.ids[i], f.vectors[i]
}

func checkInsert(vector []float32, dimension, size, capacity int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if dimension != 0 && len(vector) != dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), dimension)
	}
	if size >= capacity {
		return fmt.Errorf("%w: limit is %d", ErrCapacityExceeded, capacity)
	}
	return nil
}

func checkQuery(query []float32, dimension int) error {
	if len(query) == 0 {
		return ErrEmptyVector
	}
	if dimension != 0 && len(query) != dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(query), dimension)
	}
	return nil
}
