// Package satree implements a spatial-approximation tree over dense float32
// vectors under the L2 metric. The tree is built once from the full corpus
// and is immutable afterwards.
//
// Every node carries a covering radius — the maximum distance from it to any
// node in the build list of its subtree — and its children satisfy the
// spatial-approximation property: a node is admitted as a child only while
// it is strictly closer to the parent than to every sibling admitted before
// it.
package satree

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/queue"
	"github.com/screenager/proxima/internal/vecmath"
)

// node is one tree vertex. children are owned through the root.
type node struct {
	id        int
	embedding []float32
	radius    float64
	children  []*node
}

// Tree is the built index. arena holds every node indexed by id, so the
// record-based frontiers of the beam and greedy searches can resolve ids
// back to nodes; tree edges are the children pointers.
type Tree struct {
	root      *node
	arena     []*node
	dim       int
	size      int
	buildTime time.Duration
}

// Build constructs a tree from a flat row-major buffer of n vectors. The
// last input vector becomes the root, deterministically.
func Build(data []float32, dim, n int) (*Tree, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ann.ErrInvalidParameter, dim)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ann.ErrEmptyInput)
	}
	if len(data) < n*dim {
		return nil, fmt.Errorf("%w: buffer holds %d floats, need %d", ann.ErrInvalidParameter, len(data), n*dim)
	}

	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		embedding := make([]float32, dim)
		copy(embedding, data[i*dim:(i+1)*dim])
		nodes[i] = &node{id: i, embedding: embedding}
	}

	t := &Tree{root: nodes[n-1], arena: nodes, dim: dim, size: n}
	start := time.Now()
	buildSubtree(t.root, nodes[:n-1])
	t.buildTime = time.Since(start)
	return t, nil
}

// buildSubtree admits children of root from available and recurses. The
// covering radius is accumulated over the whole list before distribution,
// since every listed node ends up somewhere in root's subtree.
func buildSubtree(root *node, available []*node) {
	root.children = nil
	root.radius = 0

	scored := make([]struct {
		n    *node
		dist float64
	}, len(available))
	for i, a := range available {
		scored[i].n = a
		scored[i].dist = vecmath.L2(a.embedding, root.embedding)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })

	var parked []*node
	for _, s := range scored {
		if s.dist > root.radius {
			root.radius = s.dist
		}
		isChild := true
		for _, c := range root.children {
			if vecmath.L2(s.n.embedding, c.embedding) <= s.dist {
				isChild = false
				break
			}
		}
		if isChild {
			root.children = append(root.children, s.n)
		} else {
			parked = append(parked, s.n)
		}
	}

	buckets := make([][]*node, len(root.children))
	for _, p := range parked {
		closest := 0
		minDist := math.Inf(1)
		for i, c := range root.children {
			if d := vecmath.L2(p.embedding, c.embedding); d < minDist {
				minDist = d
				closest = i
			}
		}
		buckets[closest] = append(buckets[closest], p)
	}

	for i, c := range root.children {
		buildSubtree(c, buckets[i])
	}
}

// Len returns the number of indexed vectors.
func (t *Tree) Len() int { return t.size }

// Dim returns the vector dimension.
func (t *Tree) Dim() int { return t.dim }

// BuildTime returns how long tree construction took.
func (t *Tree) BuildTime() time.Duration { return t.buildTime }

// RootRadius returns the covering radius of the root.
func (t *Tree) RootRadius() float64 { return t.root.radius }

func (t *Tree) checkQuery(query []float32, k int) error {
	if len(query) != t.dim {
		return fmt.Errorf("%w: query has %d dims, index has %d", ann.ErrDimensionMismatch, len(query), t.dim)
	}
	if k < 1 {
		return fmt.Errorf("%w: k=%d (must be >= 1)", ann.ErrInvalidParameter, k)
	}
	return nil
}

// queueItem is one best-first traversal entry. weight is a lower bound on
// the distance from the query to any node in item.n's subtree.
type queueItem struct {
	n          *node
	weight     float64
	digression float64
	distance   float64
}

// itemHeap is a min-heap of queueItems ordered by weight.
type itemHeap []queueItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// KnnSearch returns the k nearest neighbours of query using the weighted
// best-first traversal. The weight of a child combines the parent weight,
// the path digression, the half-gap to the closest sibling, and the child's
// covering radius; the traversal stops once the cheapest remaining subtree
// cannot beat the current k-th best distance.
func (t *Tree) KnnSearch(query []float32, k int) (ann.Result, error) {
	if err := t.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}

	start := time.Now()
	visited := 1
	d := vecmath.L2(t.root.embedding, query)

	h := &itemHeap{{n: t.root, weight: math.Max(0, d-t.root.radius), digression: 0, distance: d}}
	heap.Init(h)

	results := queue.NewBounded[int](k)
	rad := math.Inf(1)

	for h.Len() > 0 {
		item := heap.Pop(h).(queueItem)
		if item.weight > rad {
			break
		}
		results.Insert(queue.Record[int]{Handle: item.n.id, Distance: item.distance})
		if results.Len() == k {
			worst, _ := results.Worst()
			rad = worst.Distance
		}

		closest := item.distance
		dists := make([]float64, len(item.n.children))
		for i, c := range item.n.children {
			dists[i] = vecmath.L2(c.embedding, query)
			visited++
			if dists[i] < closest {
				closest = dists[i]
			}
		}
		for i, c := range item.n.children {
			dig := math.Max(0, item.digression+(dists[i]-item.distance))
			w := math.Max(item.weight, math.Max(dig, (dists[i]-closest)/2))
			heap.Push(h, queueItem{
				n:          c,
				weight:     math.Max(w, dists[i]-c.radius),
				digression: dig,
				distance:   dists[i],
			})
		}
	}

	return ann.Result{
		Records:      results.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
	}, nil
}

// RangeSearch returns every node within r of query. digression seeds the
// accumulated digression of the root path (pass 0 for a full search).
func (t *Tree) RangeSearch(query []float32, r, digression float64) (ann.Result, error) {
	if len(query) != t.dim {
		return ann.Result{}, fmt.Errorf("%w: query has %d dims, index has %d", ann.ErrDimensionMismatch, len(query), t.dim)
	}
	if r < 0 {
		return ann.Result{}, fmt.Errorf("%w: radius %f", ann.ErrInvalidParameter, r)
	}

	start := time.Now()
	visited := 1
	out := queue.NewBounded[int](queue.Unbounded)
	d := vecmath.L2(t.root.embedding, query)
	t.rangeSearch(t.root, query, d, r, digression, out, &visited)

	return ann.Result{
		Records:      out.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
	}, nil
}

func (t *Tree) rangeSearch(n *node, query []float32, dist, r, digression float64, out *queue.Bounded[int], visited *int) {
	// Prune on the digression bound and the cover-radius bound.
	if digression > 2*r || dist > n.radius+r {
		return
	}
	if dist <= r {
		out.Insert(queue.Record[int]{Handle: n.id, Distance: dist})
	}

	dists := make([]float64, len(n.children))
	minDist := dist
	for i, c := range n.children {
		dists[i] = vecmath.L2(c.embedding, query)
		*visited++
		if dists[i] < minDist {
			minDist = dists[i]
		}
	}
	for i, c := range n.children {
		if dists[i] <= minDist+2*r {
			t.rangeSearch(c, query, dists[i], r, math.Max(digression, dists[i]-dist), out, visited)
		}
	}
}

// BeamKnnSearch expands the whole beam to its children each round, merging
// the round's discoveries back into the beam, and stops once the beam's
// worst distance no longer improves. Returns the k best of the beam.
func (t *Tree) BeamKnnSearch(query []float32, b, k int) (ann.Result, error) {
	if err := t.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if b < 1 {
		return ann.Result{}, fmt.Errorf("%w: beam width %d", ann.ErrInvalidParameter, b)
	}

	start := time.Now()
	visited := 1
	depth := 0
	seen := make(map[int]struct{})

	beam := queue.NewBounded[int](b)
	beam.Insert(queue.Record[int]{Handle: t.root.id, Distance: vecmath.L2(t.root.embedding, query)})

	for {
		prevWorst := math.Inf(1)
		if beam.Len() >= b {
			worst, _ := beam.Worst()
			prevWorst = worst.Distance
		}
		newBeam := queue.NewBounded[int](b)
		grew := false
		for _, rec := range beam.Records() {
			for _, c := range t.arena[rec.Handle].children {
				if _, ok := seen[c.id]; ok {
					continue
				}
				seen[c.id] = struct{}{}
				visited++
				newBeam.Insert(queue.Record[int]{Handle: c.id, Distance: vecmath.L2(c.embedding, query)})
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
		if worst, _ := beam.Worst(); worst.Distance >= prevWorst {
			break
		}
	}

	recs := beam.Records()
	if len(recs) > k {
		recs = recs[:k]
	}
	return ann.Result{
		Records:      recs,
		Elapsed:      time.Since(start),
		NodesVisited: visited,
		Depth:        depth,
	}, nil
}

// BeamKnnSearch2 is the result-tracked beam variant: every discovered node
// also feeds a k-bounded result set, and the rounds stop once that result
// set's worst distance no longer improves.
func (t *Tree) BeamKnnSearch2(query []float32, b, k int) (ann.Result, error) {
	if err := t.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if b < 1 {
		return ann.Result{}, fmt.Errorf("%w: beam width %d", ann.ErrInvalidParameter, b)
	}

	start := time.Now()
	visited := 1
	depth := 0
	seen := make(map[int]struct{})

	rootRec := queue.Record[int]{Handle: t.root.id, Distance: vecmath.L2(t.root.embedding, query)}
	beam := queue.NewBounded[int](b)
	beam.Insert(rootRec)
	result := queue.NewBounded[int](k)
	result.Insert(rootRec)

	for {
		prevWorst := math.Inf(1)
		if result.Len() >= k {
			worst, _ := result.Worst()
			prevWorst = worst.Distance
		}
		newBeam := queue.NewBounded[int](b)
		grew := false
		for _, rec := range beam.Records() {
			for _, c := range t.arena[rec.Handle].children {
				if _, ok := seen[c.id]; ok {
					continue
				}
				seen[c.id] = struct{}{}
				visited++
				child := queue.Record[int]{Handle: c.id, Distance: vecmath.L2(c.embedding, query)}
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

// GreedyKnnSearch runs m best-first descents from the root, each into a
// capacity-b candidate set, and returns the k best of the union. Nodes
// already ranked in the running result seed each restart's visited set.
func (t *Tree) GreedyKnnSearch(query []float32, m, b, k int) (ann.Result, error) {
	if err := t.checkQuery(query, k); err != nil {
		return ann.Result{}, err
	}
	if m < 1 || b < 1 {
		return ann.Result{}, fmt.Errorf("%w: m=%d b=%d (both must be >= 1)", ann.ErrInvalidParameter, m, b)
	}

	start := time.Now()
	visited := 0
	result := queue.NewBounded[int](k)

	for i := 0; i < m; i++ {
		tmp := queue.NewBounded[int](b)
		seen := make(map[int]struct{})
		for j, rec := range result.Records() {
			if j >= b {
				break
			}
			seen[rec.Handle] = struct{}{}
		}

		candidates := queue.NewBounded[int](queue.Unbounded)
		candidates.Insert(queue.Record[int]{Handle: t.root.id, Distance: vecmath.L2(t.root.embedding, query)})
		visited++

		for candidates.Len() > 0 {
			closest, _ := candidates.PopBest()
			if worst, ok := tmp.Worst(); ok && tmp.Len() >= b && worst.Distance < closest.Distance {
				break
			}
			for _, c := range t.arena[closest.Handle].children {
				if _, ok := seen[c.id]; ok {
					continue
				}
				seen[c.id] = struct{}{}
				child := queue.Record[int]{Handle: c.id, Distance: vecmath.L2(c.embedding, query)}
				candidates.Insert(child)
				tmp.Insert(child)
				visited++
			}
		}

		for _, rec := range tmp.Records() {
			result.Insert(rec)
		}
	}

	return ann.Result{
		Records:      result.Records(),
		Elapsed:      time.Since(start),
		NodesVisited: visited,
	}, nil
}

// GraphStats reports the average, maximum and minimum out-degree over
// internal (non-leaf) nodes.
func (t *Tree) GraphStats() ann.GraphStats {
	var sum, count, maxDeg int
	minDeg := math.MaxInt

	pending := []*node{t.root}
	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		if len(n.children) == 0 {
			continue
		}
		deg := len(n.children)
		sum += deg
		count++
		if deg > maxDeg {
			maxDeg = deg
		}
		if deg < minDeg {
			minDeg = deg
		}
		pending = append(pending, n.children...)
	}

	if count == 0 {
		return ann.GraphStats{}
	}
	return ann.GraphStats{AvgDegree: sum / count, MaxDegree: maxDeg, MinDegree: minDeg}
}

// walk visits every node with its parent (nil for the root). Used by tests
// to check build invariants.
func (t *Tree) walk(fn func(parent, n *node)) {
	var rec func(parent, n *node)
	rec = func(parent, n *node) {
		fn(parent, n)
		for _, c := range n.children {
			rec(n, c)
		}
	}
	rec(nil, t.root)
}
