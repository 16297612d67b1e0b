package swng

import (
	"errors"
	"math"
	"testing"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/vecmath"
)

func randomVecs(seed int64, n, d int) []float32 {
	rng := vecmath.NewRNG(seed)
	data := make([]float32, n*d)
	for i := range data {
		data[i] = float32(rng.Float64())
	}
	return data
}

func TestBuildValidation(t *testing.T) {
	if _, err := Build(nil, 8, 0, 16, 8, 1); !errors.Is(err, ann.ErrEmptyInput) {
		t.Errorf("n=0: want ErrEmptyInput, got %v", err)
	}
	if _, err := New(0, 16, 8, 1); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("dim=0: want ErrInvalidParameter, got %v", err)
	}
	if _, err := New(8, 0, 8, 1); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("fanout=0: want ErrInvalidParameter, got %v", err)
	}
	if _, err := New(8, 16, 0, 1); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("degree=0: want ErrInvalidParameter, got %v", err)
	}

	g, err := New(8, 16, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Insert(make([]float32, 4)); !errors.Is(err, ann.ErrDimensionMismatch) {
		t.Errorf("short insert: want ErrDimensionMismatch, got %v", err)
	}
}

// TestBootstrapClique checks that the first `degree` nodes are fully
// connected with symmetric edges.
func TestBootstrapClique(t *testing.T) {
	const dim, n, w = 4, 5, 8
	data := randomVecs(2, n, dim)
	g, err := Build(data, dim, n, 4, w, 2)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		nbs := g.Neighbors(i)
		if len(nbs) != n-1 {
			t.Fatalf("node %d has %d neighbours, want %d", i, len(nbs), n-1)
		}
		seen := make(map[int]bool)
		for _, nb := range nbs {
			if nb == i {
				t.Errorf("node %d linked to itself", i)
			}
			seen[nb] = true
		}
		if len(seen) != n-1 {
			t.Errorf("node %d has duplicate edges: %v", i, nbs)
		}
	}
}

// TestEdgesSymmetric checks that every recorded edge is present on both
// endpoints after a full build.
func TestEdgesSymmetric(t *testing.T) {
	const dim, n = 8, 120
	data := randomVecs(3, n, dim)
	g, err := Build(data, dim, n, 8, 6, 3)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		for _, nb := range g.Neighbors(i) {
			found := false
			for _, back := range g.Neighbors(nb) {
				if back == i {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("edge %d→%d has no inverse", i, nb)
			}
		}
	}

	stats := g.GraphStats()
	if stats.MinDegree < 6-1 {
		t.Errorf("min degree %d below bootstrap floor", stats.MinDegree)
	}
}

// TestSelfQuery is the build-quality check: every indexed vector must find
// itself at distance 0 via the greedy search.
func TestSelfQuery(t *testing.T) {
	const (
		dim = 8
		n   = 100
		f   = 16
		w   = 8
	)
	data := randomVecs(7, n, dim)
	g, err := Build(data, dim, n, f, w, 7)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		res, err := g.GreedyKnnSearch(data[i*dim:(i+1)*dim], 3, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Records) == 0 {
			t.Fatalf("vector %d: empty result", i)
		}
		if res.Records[0].Handle != i || res.Records[0].Distance != 0 {
			t.Errorf("vector %d: got (%d, %v)", i, res.Records[0].Handle, res.Records[0].Distance)
		}
	}
}

// TestTrueKnnIsExact compares the oracle against an independent scan.
func TestTrueKnnIsExact(t *testing.T) {
	const dim, n, k = 8, 200, 10
	data := randomVecs(13, n, dim)
	g, err := Build(data, dim, n, 8, 6, 13)
	if err != nil {
		t.Fatal(err)
	}

	query := randomVecs(14, 1, dim)
	res, err := g.TrueKnnSearch(query, k)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != k {
		t.Fatalf("got %d records, want %d", len(res.Records), k)
	}
	if res.NodesVisited != n {
		t.Errorf("oracle visited %d nodes, want %d", res.NodesVisited, n)
	}

	// Every indexed vector outside the result must be at least as far as
	// the worst returned record.
	worst := res.Records[len(res.Records)-1].Distance
	inResult := make(map[int]bool, k)
	for _, rec := range res.Records {
		inResult[rec.Handle] = true
	}
	for i := 0; i < n; i++ {
		if inResult[i] {
			continue
		}
		if d := vecmath.L2(data[i*dim:(i+1)*dim], query); d < worst {
			t.Errorf("excluded id %d at %v beats worst %v", i, d, worst)
		}
	}
}

// TestGreedyRecall measures greedy search against the oracle; a small-world
// graph at this density recovers most of the true neighbours.
func TestGreedyRecall(t *testing.T) {
	const (
		dim    = 8
		n      = 500
		k      = 10
		nQuery = 30
	)
	data := randomVecs(17, n, dim)
	g, err := Build(data, dim, n, 16, 8, 17)
	if err != nil {
		t.Fatal(err)
	}

	queries := randomVecs(18, nQuery, dim)
	var total float64
	for q := 0; q < nQuery; q++ {
		query := queries[q*dim : (q+1)*dim]
		truth, err := g.TrueKnnSearch(query, k)
		if err != nil {
			t.Fatal(err)
		}
		want := make(map[int]bool, k)
		for _, rec := range truth.Records {
			want[rec.Handle] = true
		}

		res, err := g.GreedyKnnSearch(query, 4, k)
		if err != nil {
			t.Fatal(err)
		}
		hits := 0
		for _, rec := range res.Records {
			if want[rec.Handle] {
				hits++
			}
		}
		total += float64(hits) / float64(k)
	}
	if recall := total / nQuery; recall < 0.5 {
		t.Errorf("greedy recall@%d = %.3f, want >= 0.5", k, recall)
	}
}

func TestBeamVariantsReturnRankedResults(t *testing.T) {
	const dim, n, k = 8, 300, 10
	data := randomVecs(19, n, dim)
	g, err := Build(data, dim, n, 16, 8, 19)
	if err != nil {
		t.Fatal(err)
	}
	query := randomVecs(20, 1, dim)

	searches := []struct {
		name string
		run  func() (ann.Result, error)
	}{
		{"beam", func() (ann.Result, error) { return g.BeamKnnSearch(query, 16, k) }},
		{"beam2", func() (ann.Result, error) { return g.BeamKnnSearch2(query, 16, k) }},
		{"hybrid", func() (ann.Result, error) { return g.HybridKnnSearch(query, 16, k) }},
	}
	for _, s := range searches {
		res, err := s.run()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if len(res.Records) == 0 || len(res.Records) > k {
			t.Fatalf("%s: %d records", s.name, len(res.Records))
		}
		last := math.Inf(-1)
		for _, rec := range res.Records {
			if rec.Distance < last {
				t.Errorf("%s: distances not ascending", s.name)
			}
			last = rec.Distance
		}
	}
}

func TestSeededBuildIsDeterministic(t *testing.T) {
	const dim, n = 8, 250
	data := randomVecs(23, n, dim)

	g1, err := Build(data, dim, n, 8, 6, 99)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Build(data, dim, n, 8, 6, 99)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		n1, n2 := g1.Neighbors(i), g2.Neighbors(i)
		if len(n1) != len(n2) {
			t.Fatalf("node %d: %d vs %d neighbours", i, len(n1), len(n2))
		}
		for j := range n1 {
			if n1[j] != n2[j] {
				t.Fatalf("node %d neighbour %d differs: %d vs %d", i, j, n1[j], n2[j])
			}
		}
	}
}
