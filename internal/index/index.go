// Package index is the driver surface over the three engines: it dispatches
// construction and search on an engine kind, loads benchmark datasets, and
// measures recall against a brute-force oracle.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/hnsw"
	"github.com/screenager/proxima/internal/queue"
	"github.com/screenager/proxima/internal/satree"
	"github.com/screenager/proxima/internal/swng"
	"github.com/screenager/proxima/internal/vecio"
	"github.com/screenager/proxima/internal/vecmath"
)

// Kind selects an engine.
type Kind string

const (
	KindHNSW   Kind = "hnsw"
	KindSATree Kind = "sa_tree"
	KindSWNG   Kind = "swng"
)

// ParseKind validates an engine kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHNSW, KindSATree, KindSWNG:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown index kind %q (want hnsw, sa_tree or swng)", ann.ErrInvalidParameter, s)
}

// Params carries every engine's tunables; each engine reads its own subset.
type Params struct {
	M              int // hnsw: max degree on layers >= 1
	M0             int // hnsw: max degree on layer 0
	EfConstruction int // hnsw: build frontier size
	EfSearch       int // hnsw: search frontier size
	Fanout         int // swng: greedy restarts during build
	Degree         int // swng: neighbours attached per insertion
	Restarts       int // swng: greedy restarts during search
	Seed           int64
}

// DefaultParams returns the parameter set used when flags and config are silent.
func DefaultParams() Params {
	return Params{
		M:              hnsw.DefaultM,
		M0:             hnsw.DefaultM0,
		EfConstruction: hnsw.DefaultEfConstruction,
		EfSearch:       hnsw.DefaultEfSearch,
		Fanout:         swng.DefaultFanout,
		Degree:         swng.DefaultDegree,
		Restarts:       3,
		Seed:           42,
	}
}

// ProgressFunc is called after each inserted vector during an HNSW or SWNG
// build; an SA-Tree build reports once, when the whole tree is built.
type ProgressFunc func(done, total int)

// Index wraps one built engine.
type Index struct {
	kind      Kind
	dim       int
	size      int
	params    Params
	buildTime time.Duration

	hnsw   *hnsw.Graph
	satree *satree.Tree
	swng   *swng.Graph
}

// Build constructs an index of the given kind from a flat row-major buffer.
func Build(data []float32, dim, n int, kind Kind, p Params) (*Index, error) {
	return BuildWithProgress(data, dim, n, kind, p, nil)
}

// BuildWithProgress is Build with a per-vector progress callback (may be nil).
func BuildWithProgress(data []float32, dim, n int, kind Kind, p Params, progress ProgressFunc) (*Index, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", ann.ErrEmptyInput)
	}
	if dim <= 0 || len(data) < n*dim {
		return nil, fmt.Errorf("%w: buffer holds %d floats, need %d", ann.ErrInvalidParameter, len(data), n*dim)
	}

	ix := &Index{kind: kind, dim: dim, size: n, params: p}
	start := time.Now()

	switch kind {
	case KindHNSW:
		g, err := hnsw.New(dim, hnsw.Params{M: p.M, M0: p.M0, EfConstruction: p.EfConstruction, Seed: p.Seed})
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if err := g.Insert(data[i*dim : (i+1)*dim]); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(i+1, n)
			}
		}
		ix.hnsw = g

	case KindSATree:
		t, err := satree.Build(data, dim, n)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(n, n)
		}
		ix.satree = t

	case KindSWNG:
		g, err := swng.New(dim, p.Fanout, p.Degree, p.Seed)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if err := g.Insert(data[i*dim : (i+1)*dim]); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(i+1, n)
			}
		}
		ix.swng = g

	default:
		return nil, fmt.Errorf("%w: unknown index kind %q", ann.ErrInvalidParameter, kind)
	}

	ix.buildTime = time.Since(start)
	return ix, nil
}

// Kind returns the engine kind.
func (ix *Index) Kind() Kind { return ix.kind }

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of indexed vectors.
func (ix *Index) Len() int { return ix.size }

// Params returns the parameters the index was built with.
func (ix *Index) Params() Params { return ix.params }

// BuildTime returns how long construction took.
func (ix *Index) BuildTime() time.Duration { return ix.buildTime }

// Search returns the k nearest neighbours of query using the engine's
// primary search routine.
func (ix *Index) Search(query []float32, k int) (ann.Result, error) {
	switch ix.kind {
	case KindHNSW:
		return ix.hnsw.KnnSearch(query, k, ix.params.EfSearch)
	case KindSATree:
		return ix.satree.KnnSearch(query, k)
	case KindSWNG:
		return ix.swng.GreedyKnnSearch(query, ix.params.Restarts, k)
	}
	return ann.Result{}, fmt.Errorf("%w: unknown index kind %q", ann.ErrInvalidParameter, ix.kind)
}

// GraphStats reports degree statistics for engines that expose them
// (SA-Tree and SWNG).
func (ix *Index) GraphStats() (ann.GraphStats, error) {
	switch ix.kind {
	case KindSATree:
		return ix.satree.GraphStats(), nil
	case KindSWNG:
		return ix.swng.GraphStats(), nil
	}
	return ann.GraphStats{}, fmt.Errorf("%w: %s exposes no graph stats", ann.ErrInvalidParameter, ix.kind)
}

// BruteForce returns the exact k nearest neighbours of query by scanning the
// whole buffer. It is the recall oracle.
func BruteForce(data []float32, dim, n int, query []float32, k int) []queue.Record[int] {
	result := queue.NewBounded[int](k)
	for i := 0; i < n; i++ {
		result.Insert(queue.Record[int]{Handle: i, Distance: vecmath.L2(data[i*dim:(i+1)*dim], query)})
	}
	return result.Records()
}

// Recall returns the fraction of the first k entries of truth that appear
// among got's ids.
func Recall(got []queue.Record[int], truth []int32, k int) float64 {
	if k <= 0 {
		return 0
	}
	if k > len(truth) {
		k = len(truth)
	}
	want := make(map[int]struct{}, k)
	for _, id := range truth[:k] {
		want[int(id)] = struct{}{}
	}
	hits := 0
	for _, rec := range got {
		if _, ok := want[rec.Handle]; ok {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// Dataset is the on-disk benchmark layout: base vectors, query vectors and
// a ground-truth id matrix (one row of nearest ids per query).
type Dataset struct {
	Dim  int
	N    int
	Base []float32

	QueryN  int
	Queries []float32

	GTDim       int
	GroundTruth []int32 // row i holds the nearest ids of query i
}

// Query returns query vector i.
func (d *Dataset) Query(i int) []float32 {
	return d.Queries[i*d.Dim : (i+1)*d.Dim]
}

// Vector returns base vector i.
func (d *Dataset) Vector(i int) []float32 {
	return d.Base[i*d.Dim : (i+1)*d.Dim]
}

// Truth returns the ground-truth id row of query i, or nil when the dataset
// has no ground truth.
func (d *Dataset) Truth(i int) []int32 {
	if d.GTDim == 0 {
		return nil
	}
	return d.GroundTruth[i*d.GTDim : (i+1)*d.GTDim]
}

// LoadDataset reads base.fvecs, query.fvecs and (when present)
// groundtruth.ivecs from dir.
func LoadDataset(dir string) (*Dataset, error) {
	base, dim, n, err := vecio.ReadFvecs(filepath.Join(dir, "base.fvecs"))
	if err != nil {
		return nil, err
	}
	queries, qdim, qn, err := vecio.ReadFvecs(filepath.Join(dir, "query.fvecs"))
	if err != nil {
		return nil, err
	}
	if qdim != dim {
		return nil, fmt.Errorf("%w: base dim %d vs query dim %d", ann.ErrDimensionMismatch, dim, qdim)
	}

	ds := &Dataset{Dim: dim, N: n, Base: base, QueryN: qn, Queries: queries}

	// Ground truth is optional; anything other than absence is an error.
	gtPath := filepath.Join(dir, "groundtruth.ivecs")
	gt, gtDim, gtN, err := vecio.ReadIvecs(gtPath)
	switch {
	case err == nil:
		if gtN != qn {
			return nil, fmt.Errorf("%w: %s: %d rows for %d queries", vecio.ErrBadFormat, gtPath, gtN, qn)
		}
		ds.GTDim = gtDim
		ds.GroundTruth = gt
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	return ds, nil
}
