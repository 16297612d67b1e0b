// Package swng implements a flat small-world neighbourhood graph over dense
// float32 vectors under the L2 metric. Edges are undirected and unbounded in
// degree: the first w nodes form a clique, and every later node attaches
// bidirectionally to the w nearest neighbours found by a multi-restart
// greedy search over the partial graph.
package swng

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/queue"
	"github.com/screenager/proxima/internal/vecmath"
)

const (
	// DefaultFanout is the number of greedy restarts used during build.
	DefaultFanout = 16
	// DefaultDegree is the number of neighbours attached per insertion.
	DefaultDegree = 8
)

// node is a graph vertex. neighbors holds node ids in attachment order; an
// edge is recorded on both endpoints when it is created.
type node struct {
	id        int
	embedding []float32
	neighbors []int
}

// Graph is the small-world index.
type Graph struct {
	dim    int
	fanout int // greedy restarts during build
	degree int // neighbours attached per insertion
	nodes  []*node

	mu  sync.Mutex // guards rng: searches draw random start nodes
	rng *vecmath.RNG

	buildTime time.Duration
}

// New creates an empty graph for vectors of the given dimension. fanout is
// the number of greedy restarts per insertion, degree the target number of
// neighbours per new node.
func New(dim, fanout, degree int, seed int64) (*Graph, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ann.ErrInvalidParameter, dim)
	}
	if fanout < 1 || degree < 1 {
		return nil, fmt.Errorf("%w: fanout=%d degree=%d (both must be >= 1)", ann.ErrInvalidParameter, fanout, degree)
	}
	return &Graph{
		dim:    dim,
		fanout: fanout,
		degree: degree,
		rng:    vecmath.NewRNG(seed),
	}, nil
}

// Build constructs a graph from a flat row-major buffer of n vectors.
func Build(data []float32, dim, n, fanout, degree int, seed int64) (*Graph, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ann.ErrEmptyInput)
	}
	g, err := New(dim, fanout, degree, seed)
	if err != nil {
		return nil, err
	}
	if len(data) < n*dim {
		return nil, fmt.Errorf("%w: buffer holds %d floats, need %d", ann.ErrInvalidParameter, len(data), n*dim)
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := g.Insert(data[i*dim : (i+1)*dim]); err != nil {
			return nil, err
		}
	}
	g.buildTime = time.Since(start)
	return g, nil
}

// Len returns the number of indexed vectors.
func (g *Graph) Len() int { return len(g.nodes) }

// Dim returns the vector dimension.
func (g *Graph) Dim() int { return g.dim }

// BuildTime returns how long graph construction took; zero unless the graph
// came from Build.
func (g *Graph) BuildTime() time.Duration { return g.buildTime }

// Neighbors returns node id's neighbour ids in attachment order.
func (g *Graph) Neighbors(id int) []int {
	if id < 0 || id >= len(g.nodes) {
		return nil
	}
	return slices.Clone(g.nodes[id].neighbors)
}

// connect records the undirected edge a—b on both endpoints.
func (g *Graph) connect(a, b *node) {
	a.neighbors = append(a.neighbors, b.id)
	b.neighbors = append(b.neighbors, a.id)
}

// Insert adds a vector to the graph. The first degree nodes connect to every
// existing node; afterwards the new node attaches to the degree nearest
// neighbours found by a greedy self-search.
func (g *Graph) Insert(embedding []float32) error {
	if len(embedding) != g.dim {
		return fmt.Errorf("%w: vector has %d dims, index has %d", ann.ErrDimensionMismatch, len(embedding), g.dim)
	}

	nd := &node{id: len(g.nodes), embedding: slices.Clone(embedding)}

	if len(g.nodes) < g.degree {
		for _, other := range g.nodes {
			g.connect(nd, other)
		}
		g.nodes = append(g.nodes, nd)
		return nil
	}

	res, err := g.GreedyKnnSearch(embedding, g.fanout, g.degree)
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		g.connect(nd, g.nodes[rec.Handle])
	}
	g.nodes = append(g.nodes, nd)
	return nil
}

func (g *Graph) checkQuery(query []float32, k int) error {
	if len(query) != g.dim {
		return fmt.Errorf("%w: query has %d dims, index has %d", ann.ErrDimensionMismatch, len(query), g.dim)
	}
	if k < 1 {
		return fmt.Errorf("%w: k=%d (must be >= 1)", ann.ErrInvalidParameter, k)
	}
	return nil
}

// randomStart draws a start node id not yet present in seen.
// The caller must ensure len(seen) < len(g.nodes).
func (g *Graph) randomStart(seen map[int]struct{}) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.rng.IntBetween(0, len(g.nodes)-1)
	for {
		if _, ok := seen[id]; !ok {
			return id
		}
		id = g.rng.IntBetween(0, len(g.nodes)-1)
	}
}

// GreedyKnnSearch runs m best-first descents from random unvisited starts
// and returns the k best of the union. The visited set is shared across
// restarts, so later restarts explore fresh territory.
func (g *Graph) GreedyKnnSearch(query []float32, m, k int) (ann.Result, error) {
	if err := g.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if m < 1 {
		return ann.Result{}, fmt.Errorf("%w: m=%d (must be >= 1)", ann.ErrInvalidParameter, m)
	}

	start := time.Now()
	seen := make(map[int]struct{})
	result := queue.NewBounded[int](k)
	hops := 0
	maxDepth := 0
	visited := 0

	for i := 0; i < m; i++ {
		if len(seen) >= len(g.nodes) {
			break
		}
		entry := g.randomStart(seen)

		tmp := queue.NewBounded[int](k)
		candidates := queue.NewBounded[int](queue.Unbounded)
		candidates.Insert(queue.Record[int]{Handle: entry, Distance: vecmath.L2(g.nodes[entry].embedding, query)})
		visited++
		depth := 0

		for candidates.Len() > 0 {
			closest, _ := candidates.PopBest()
			if worst, ok := tmp.Worst(); ok && tmp.Len() >= k && worst.Distance < closest.Distance {
				break
			}
			grew := false
			for _, nb := range g.nodes[closest.Handle].neighbors {
				if _, ok := seen[nb]; ok {
					continue
				}
				seen[nb] = struct{}{}
				child := queue.Record[int]{Handle: nb, Distance: vecmath.L2(g.nodes[nb].embedding, query)}
				candidates.Insert(child)
				tmp.Insert(child)
				hops++
				visited++
				grew = true
			}
			if grew {
				depth++
			}
		}
		if depth > maxDepth {
			maxDepth = depth
		}

		for _, rec := range tmp.Records() {
			result.Insert(rec)
		}
	}

	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
		Hops:         hops / m,
		Depth:        maxDepth,
	}, nil
}

// seedEntryPoints draws up to b distinct random entry points, inserting each
// into the given queues and marking it seen. Returns the number seeded.
func (g *Graph) seedEntryPoints(query []float32, b int, seen map[int]struct{}, into ...*queue.Bounded[int]) int {
	seeded := 0
	for i := 0; i < b; i++ {
		if len(seen) >= len(g.nodes) {
			break
		}
		id := g.randomStart(seen)
		seen[id] = struct{}{}
		rec := queue.Record[int]{Handle: id, Distance: vecmath.L2(g.nodes[id].embedding, query)}
		for _, q := range into {
			q.Insert(rec)
		}
		seeded++
	}
	return seeded
}

// BeamKnnSearch explores from b random entry points, expanding the whole
// beam each round and stopping once the beam's worst distance no longer
// improves. Returns the k best of the final beam.
func (g *Graph) BeamKnnSearch(query []float32, b, k int) (ann.Result, error) {
	if err := g.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if b < 1 {
		return ann.Result{}, fmt.Errorf("%w: beam width %d", ann.ErrInvalidParameter, b)
	}

	start := time.Now()
	seen := make(map[int]struct{})
	beam := queue.NewBounded[int](b)
	visited := g.seedEntryPoints(query, b, seen, beam)
	depth := 0

	for {
		worst, _ := beam.Worst()
		prevWorst := worst.Distance
		newBeam := queue.NewBounded[int](b)
		grew := false
		for _, rec := range beam.Records() {
			for _, nb := range g.nodes[rec.Handle].neighbors {
				if _, ok := seen[nb]; ok {
					continue
				}
				seen[nb] = struct{}{}
				visited++
				newBeam.Insert(queue.Record[int]{Handle: nb, Distance: vecmath.L2(g.nodes[nb].embedding, query)})
				grew = true
			}
		}
		if grew {
			depth++
		}
		for _, rec := range newBeam.Records() {
			beam.Insert(rec)
		}
		if worst, _ := beam.Worst(); worst.Distance >= prevWorst {
			break
		}
	}

	result := queue.NewBounded[int](k)
	for _, rec := range beam.Records() {
		result.Insert(rec)
	}
	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
		Depth:        depth,
	}, nil
}

// BeamKnnSearch2 is the result-tracked beam variant: discoveries also feed a
// k-bounded result set and the rounds stop once that set's worst distance no
// longer improves.
func (g *Graph) BeamKnnSearch2(query []float32, b, k int) (ann.Result, error) {
	if err := g.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if b < 1 {
		return ann.Result{}, fmt.Errorf("%w: beam width %d", ann.ErrInvalidParameter, b)
	}

	start := time.Now()
	seen := make(map[int]struct{})
	beam := queue.NewBounded[int](b)
	result := queue.NewBounded[int](k)
	visited := g.seedEntryPoints(query, b, seen, beam, result)
	depth := 0

	for {
		prevWorst := math.Inf(1)
		if result.Len() >= k {
			worst, _ := result.Worst()
			prevWorst = worst.Distance
		}
		newBeam := queue.NewBounded[int](b)
		grew := false
		for _, rec := range beam.Records() {
			for _, nb := range g.nodes[rec.Handle].neighbors {
				if _, ok := seen[nb]; ok {
					continue
				}
				seen[nb] = struct{}{}
				visited++
				child := queue.Record[int]{Handle: nb, Distance: vecmath.L2(g.nodes[nb].embedding, query)}
				newBeam.Insert(child)
				result.Insert(child)
				grew = true
			}
		}
		if !grew {
			break
		}
		depth++
		for _, rec := range newBeam.Records() {
			beam.Insert(rec)
		}
		if worst, _ := result.Worst(); worst.Distance >= prevWorst {
			break
		}
	}

	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
		Depth:        depth,
	}, nil
}

// HybridKnnSearch seeds a b-wide beam from random entry points and then runs
// a single best-first expansion over it. Returns the k best of the beam.
func (g *Graph) HybridKnnSearch(query []float32, b, k int) (ann.Result, error) {
	if err := g.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if b < 1 {
		return ann.Result{}, fmt.Errorf("%w: beam width %d", ann.ErrInvalidParameter, b)
	}

	start := time.Now()
	seen := make(map[int]struct{})
	beam := queue.NewBounded[int](b)
	candidates := queue.NewBounded[int](queue.Unbounded)
	visited := g.seedEntryPoints(query, b, seen, beam, candidates)

	for candidates.Len() > 0 {
		closest, _ := candidates.PopBest()
		if worst, ok := beam.Worst(); ok && beam.Len() >= b && worst.Distance < closest.Distance {
			break
		}
		for _, nb := range g.nodes[closest.Handle].neighbors {
			if _, ok := seen[nb]; ok {
				continue
			}
			seen[nb] = struct{}{}
			visited++
			child := queue.Record[int]{Handle: nb, Distance: vecmath.L2(g.nodes[nb].embedding, query)}
			candidates.Insert(child)
			beam.Insert(child)
		}
	}

	result := queue.NewBounded[int](k)
	for _, rec := range beam.Records() {
		result.Insert(rec)
	}
	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
	}, nil
}

// TrueKnnSearch scans the whole corpus and returns the exact k nearest
// neighbours. Used as the ground-truth oracle.
func (g *Graph) TrueKnnSearch(query []float32, k int) (ann.Result, error) {
	if err := g.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}

	start := time.Now()
	result := queue.NewBounded[int](k)
	for _, n := range g.nodes {
		result.Insert(queue.Record[int]{Handle: n.id, Distance: vecmath.L2(n.embedding, query)})
	}
	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: len(g.nodes),
	}, nil
}

// GraphStats reports the average, maximum and minimum degree over all nodes.
func (g *Graph) GraphStats() ann.GraphStats {
	if len(g.nodes) == 0 {
		return ann.GraphStats{}
	}
	var sum, maxDeg int
	minDeg := math.MaxInt
	for _, n := range g.nodes {
		deg := len(n.neighbors)
		sum += deg
		if deg > maxDeg {
			maxDeg = deg
		}
		if deg < minDeg {
			minDeg = deg
		}
	}
	return ann.GraphStats{AvgDegree: sum / len(g.nodes), MaxDegree: maxDeg, MinDegree: minDeg}
}
