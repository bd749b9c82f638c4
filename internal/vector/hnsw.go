package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// hnswNode is one point in the graph. friends[l] holds the slots linked on layer l.
type hnswNode struct {
	id      int64
	vector  []float32
	norm    float64
	friends [][]uint32
}

func (n *hnswNode) level() int { return len(n.friends) - 1 }

// HNSWIndex is a hierarchical navigable small world graph ranked by cosine distance.
// Upper layers keep MaxConnections links per node; layer 0 keeps twice that.
type HNSWIndex struct {
	dimension      int
	m              int
	maxElements    int
	maxLayers      int
	efConstruction int
	levelMult      float64

	nodes    []*hnswNode
	entry    uint32
	maxLevel int // -1 while empty
	rng      *rand.Rand
}

// NewHNSWIndex creates an empty graph.
func NewHNSWIndex(opts Options) (*HNSWIndex, error) {
	opts = opts.withDefaults()
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative")
	}
	if opts.MaxConnections < 2 {
		return nil, fmt.Errorf("max connections must be at least 2, got %d", opts.MaxConnections)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &HNSWIndex{
		dimension:      opts.Dimension,
		m:              opts.MaxConnections,
		maxElements:    opts.MaxElements,
		maxLayers:      opts.MaxLayers,
		efConstruction: opts.EfConstruction,
		levelMult:      1 / math.Log(float64(opts.MaxConnections)),
		nodes:          make([]*hnswNode, 0),
		maxLevel:       -1,
		rng:            rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() IndexType {
	return IndexTypeHNSW
}

// Len returns the number of nodes.
func (h *HNSWIndex) Len() int {
	return len(h.nodes)
}

// Dimension returns the vector length, or 0 before the first insert.
func (h *HNSWIndex) Dimension() int {
	return h.dimension
}

// Insert adds a node and links it into every layer up to its random level.
func (h *HNSWIndex) Insert(vector []float32, id int64) error {
	if err := checkInsert(vector, h.dimension, len(h.nodes), h.maxElements); err != nil {
		return err
	}
	if h.dimension == 0 {
		h.dimension = len(vector)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	level := h.randomLevel()
	node := &hnswNode{id: id, vector: vec, norm: L2Norm(vec), friends: make([][]uint32, level+1)}
	slot := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node)

	if h.maxLevel < 0 {
		h.entry = slot
		h.maxLevel = level
		return nil
	}

	ep := candidate{slot: h.entry, dist: h.distanceTo(vec, node.norm, h.entry)}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(vec, node.norm, ep, l)
	}
	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayer(vec, node.norm, ep, h.efConstruction, l)
		neighbors := h.selectNeighbors(found, h.m)
		node.friends[l] = neighbors
		for _, nb := range neighbors {
			h.link(nb, slot, l)
		}
		if len(found) > 0 {
			ep = found[0]
		}
	}
	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = slot
	}
	return nil
}

// Search returns up to k nodes closest to query. The layer 0 search width is max(ef, k).
func (h *HNSWIndex) Search(query []float32, k, ef int) ([]Candidate, error) {
	if err := checkQuery(query, h.dimension); err != nil {
		return nil, err
	}
	if k <= 0 || len(h.nodes) == 0 {
		return []Candidate{}, nil
	}
	ef = max(ef, k)
	qn := L2Norm(query)
	ep := candidate{slot: h.entry, dist: h.distanceTo(query, qn, h.entry)}
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(query, qn, ep, l)
	}
	found := h.searchLayer(query, qn, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	result := make([]Candidate, len(found))
	for i, c := range found {
		result[i] = Candidate{ID: h.nodes[c.slot].id, Distance: c.dist}
	}
	return result, nil
}

// randomLevel draws floor(-ln(U) * 1/ln(M)), capped below maxLayers.
func (h *HNSWIndex) randomLevel() int {
	u := h.rng.Float64()
	if u == 0 {
		return h.maxLayers - 1
	}
	level := int(math.Floor(-math.Log(u) * h.levelMult))
	return min(level, h.maxLayers-1)
}

func (h *HNSWIndex) maxFriends(layer int) int {
	if layer == 0 {
		return 2 * h.m
	}
	return h.m
}

func (h *HNSWIndex) distanceTo(query []float32, norm float64, slot uint32) float32 {
	n := h.nodes[slot]
	return cosineDistance(query, n.vector, norm, n.norm)
}

func (h *HNSWIndex) distanceBetween(a, b uint32) float32 {
	na, nb := h.nodes[a], h.nodes[b]
	return cosineDistance(na.vector, nb.vector, na.norm, nb.norm)
}

// greedy walks layer l towards query until no neighbor is closer.
func (h *HNSWIndex) greedy(query []float32, norm float64, ep candidate, layer int) candidate {
	for changed := true; changed; {
		changed = false
		for _, nb := range h.nodes[ep.slot].friends[layer] {
			if d := h.distanceTo(query, norm, nb); d < ep.dist {
				ep = candidate{slot: nb, dist: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef nodes of layer l closest to query, nearest first.
func (h *HNSWIndex) searchLayer(query []float32, norm float64, ep candidate, ef, layer int) []candidate {
	visited := roaring.New()
	visited.Add(ep.slot)
	candidates := &minHeap{ep}
	results := &maxHeap{ep}

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && current.dist > results.peek().dist {
			break
		}
		for _, nb := range h.nodes[current.slot].friends[layer] {
			if !visited.CheckedAdd(nb) {
				continue
			}
			d := h.distanceTo(query, norm, nb)
			if results.Len() < ef || d < results.peek().dist {
				heap.Push(candidates, candidate{slot: nb, dist: d})
				heap.Push(results, candidate{slot: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectNeighbors keeps candidates that are closer to the query than to any
// neighbor already kept, then tops up with the nearest discarded ones.
// found must be sorted nearest first.
func (h *HNSWIndex) selectNeighbors(found []candidate, m int) []uint32 {
	if len(found) <= m {
		out := make([]uint32, len(found))
		for i, c := range found {
			out[i] = c.slot
		}
		return out
	}
	kept := make([]uint32, 0, m)
	var skipped []uint32
	for _, c := range found {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if h.distanceBetween(c.slot, k) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c.slot)
		} else {
			skipped = append(skipped, c.slot)
		}
	}
	for _, s := range skipped {
		if len(kept) >= m {
			break
		}
		kept = append(kept, s)
	}
	return kept
}

// link adds a back edge from slot to target and prunes slot's list when it overflows.
func (h *HNSWIndex) link(slot, target uint32, layer int) {
	node := h.nodes[slot]
	node.friends[layer] = append(node.friends[layer], target)
	limit := h.maxFriends(layer)
	if len(node.friends[layer]) <= limit {
		return
	}
	scored := make([]candidate, len(node.friends[layer]))
	for i, f := range node.friends[layer] {
		scored[i] = candidate{slot: f, dist: h.distanceBetween(slot, f)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	node.friends[layer] = h.selectNeighbors(scored, limit)
}

func (h *HNSWIndex) node(i int) (int64, []float32) {
	n := h.nodes[i]
	return n.id, n.vector
}
