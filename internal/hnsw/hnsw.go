// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest-neighbour search over dense float32 vectors under the
// L2 metric.
//
// Parameters:
//
//	M              max neighbours per node on layers ≥ 1
//	M0             max neighbours per node on layer 0 (commonly 2*M)
//	efConstruction candidate pool size during insertion
//	efSearch       candidate pool size during query
//
// Each node keeps one bounded neighbour queue per layer; edges are mutual at
// insertion time, but a later insertion may evict one direction from a full
// queue and the inverse edge is not chased.
package hnsw

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/queue"
	"github.com/screenager/proxima/internal/vecmath"
)

const (
	// DefaultM is the base number of bi-directional connections per node.
	DefaultM = 16
	// DefaultM0 is the layer-0 connection cap.
	DefaultM0 = 32
	// DefaultEfConstruction is the size of the dynamic candidate list during build.
	DefaultEfConstruction = 100
	// DefaultEfSearch is the size of the dynamic candidate list during search.
	DefaultEfSearch = 100
)

// Params configures a graph.
type Params struct {
	M              int
	M0             int
	EfConstruction int
	Seed           int64
}

// node is a vertex in the graph. layers[l] holds its outgoing neighbours on
// level l, capped at M0 for l = 0 and M above.
type node struct {
	id        int
	embedding []float32
	layers    []*queue.Bounded[int]
}

// Graph is the HNSW index.
type Graph struct {
	dim            int
	m              int
	m0             int
	efConstruction int
	mL             float64 // level generation factor = 1/ln(m)
	rng            *vecmath.RNG
	nodes          []*node
	entrypoint     int // id of the node on the highest occupied layer; -1 when empty
}

// New creates an empty graph for vectors of the given dimension.
func New(dim int, p Params) (*Graph, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ann.ErrInvalidParameter, dim)
	}
	if p.M < 1 || p.M0 < 1 || p.EfConstruction < 1 {
		return nil, fmt.Errorf("%w: M=%d M0=%d efConstruction=%d (all must be >= 1)",
			ann.ErrInvalidParameter, p.M, p.M0, p.EfConstruction)
	}
	return &Graph{
		dim:            dim,
		m:              p.M,
		m0:             p.M0,
		efConstruction: p.EfConstruction,
		mL:             1.0 / math.Log(float64(p.M)),
		rng:            vecmath.NewRNG(p.Seed),
		entrypoint:     -1,
	}, nil
}

// Build constructs a graph from a flat row-major buffer of n vectors.
func Build(data []float32, dim, n int, p Params) (*Graph, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ann.ErrEmptyInput)
	}
	g, err := New(dim, p)
	if err != nil {
		return nil, err
	}
	if len(data) < n*dim {
		return nil, fmt.Errorf("%w: buffer holds %d floats, need %d", ann.ErrInvalidParameter, len(data), n*dim)
	}
	for i := 0; i < n; i++ {
		if err := g.Insert(data[i*dim : (i+1)*dim]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Len returns the number of indexed vectors.
func (g *Graph) Len() int { return len(g.nodes) }

// Dim returns the vector dimension.
func (g *Graph) Dim() int { return g.dim }

// MaxLayer returns the highest occupied layer, or -1 on an empty graph.
func (g *Graph) MaxLayer() int {
	if g.entrypoint < 0 {
		return -1
	}
	return len(g.nodes[g.entrypoint].layers) - 1
}

// Neighbors returns node id's neighbour records at the given layer,
// ascending by distance.
func (g *Graph) Neighbors(id, layer int) []queue.Record[int] {
	if id < 0 || id >= len(g.nodes) || layer < 0 || layer >= len(g.nodes[id].layers) {
		return nil
	}
	return g.nodes[id].layers[layer].Records()
}

// randomLevel draws a level for a new node using the exponential law.
func (g *Graph) randomLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()) * g.mL))
}

// newLayers allocates level+1 bounded neighbour queues.
func (g *Graph) newLayers(level int) []*queue.Bounded[int] {
	layers := make([]*queue.Bounded[int], level+1)
	for l := range layers {
		cap := g.m
		if l == 0 {
			cap = g.m0
		}
		layers[l] = queue.NewBounded[int](cap)
	}
	return layers
}

// Insert adds a vector to the graph. Ids are assigned in insertion order.
func (g *Graph) Insert(embedding []float32) error {
	if len(embedding) != g.dim {
		return fmt.Errorf("%w: vector has %d dims, index has %d", ann.ErrDimensionMismatch, len(embedding), g.dim)
	}

	id := len(g.nodes)
	level := g.randomLevel()
	n := &node{
		id:        id,
		embedding: slices.Clone(embedding),
		layers:    g.newLayers(level),
	}
	g.nodes = append(g.nodes, n)

	if g.entrypoint < 0 {
		g.entrypoint = id
		return nil
	}

	entry := g.nodes[g.entrypoint]
	top := len(entry.layers) - 1
	ep := queue.NewBounded[int](1)
	ep.Insert(queue.Record[int]{Handle: entry.id, Distance: vecmath.L2(entry.embedding, embedding)})

	// Greedy descent through layers above the node's level.
	for l := top; l > level; l-- {
		ep = g.searchLayer(embedding, ep, 1, l, nil)
	}

	// Attach on layers [min(level, top) .. 0].
	for l := min(level, top); l >= 0; l-- {
		ep = g.searchLayer(embedding, ep, g.efConstruction, l, nil)
		mMax := g.m
		if l == 0 {
			mMax = g.m0
		}
		for i, nb := range ep.Records() {
			if i >= mMax {
				break
			}
			n.layers[l].Insert(nb)
			g.nodes[nb.Handle].layers[l].Insert(queue.Record[int]{Handle: id, Distance: nb.Distance})
		}
	}

	if level > top {
		g.entrypoint = id
	}
	return nil
}

// searchLayer runs the best-first frontier search at one layer. results is
// bounded to ef; candidates is unbounded. visited counts distance
// evaluations when non-nil.
func (g *Graph) searchLayer(query []float32, entry *queue.Bounded[int], ef, layer int, visited *int) *queue.Bounded[int] {
	results := queue.NewBounded[int](ef)
	candidates := queue.NewBounded[int](queue.Unbounded)
	seen := make(map[int]struct{})

	for _, r := range entry.Records() {
		results.Insert(r)
		candidates.Insert(r)
		seen[r.Handle] = struct{}{}
	}

	for candidates.Len() > 0 {
		closest, _ := candidates.PopBest()
		furthest, _ := results.Worst()
		if results.Len() >= ef && furthest.Distance < closest.Distance {
			break
		}
		cn := g.nodes[closest.Handle]
		if layer >= len(cn.layers) {
			continue
		}
		for _, nb := range cn.layers[layer].Records() {
			if _, ok := seen[nb.Handle]; ok {
				continue
			}
			seen[nb.Handle] = struct{}{}
			d := vecmath.L2(g.nodes[nb.Handle].embedding, query)
			if visited != nil {
				*visited++
			}
			if results.Len() < ef || furthest.Distance > d {
				r := queue.Record[int]{Handle: nb.Handle, Distance: d}
				results.Insert(r)
				candidates.Insert(r)
			}
		}
	}
	return results
}

// KnnSearch returns the k nearest neighbours of query, exploring a frontier
// of efSearch candidates on layer 0.
func (g *Graph) KnnSearch(query []float32, k, efSearch int) (ann.Result, error) {
	if len(query) != g.dim {
		return ann.Result{}, fmt.Errorf("%w: query has %d dims, index has %d", ann.ErrDimensionMismatch, len(query), g.dim)
	}
	if k < 1 || efSearch < 1 {
		return ann.Result{}, fmt.Errorf("%w: k=%d efSearch=%d (both must be >= 1)", ann.ErrInvalidParameter, k, efSearch)
	}

	start := time.Now()
	if g.entrypoint < 0 {
		return ann.Result{Elapsed: time.Since(start)}, nil
	}

	visited := 1
	entry := g.nodes[g.entrypoint]
	ep := queue.NewBounded[int](1)
	ep.Insert(queue.Record[int]{Handle: entry.id, Distance: vecmath.L2(entry.embedding, query)})

	for l := len(entry.layers) - 1; l >= 1; l-- {
		ep = g.searchLayer(query, ep, 1, l, &visited)
	}
	ep = g.searchLayer(query, ep, efSearch, 0, &visited)

	recs := ep.Records()
	if len(recs) > k {
		recs = recs[:k]
	}
	return ann.Result{
		Records:      recs,
		Elapsed:      time.Since(start),
		NodesVisited: visited,
	}, nil
}
