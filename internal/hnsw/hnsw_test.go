package hnsw

import (
	"errors"
	"sort"
	"testing"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/vecmath"
)

// randomVecs generates n seeded random vectors of dimension d as one flat
// row-major buffer.
func randomVecs(seed int64, n, d int) []float32 {
	rng := vecmath.NewRNG(seed)
	data := make([]float32, n*d)
	for i := range data {
		data[i] = float32(rng.Float64())
	}
	return data
}

// bruteTopK returns the exact k nearest ids of query in data.
func bruteTopK(data []float32, dim, n int, query []float32, k int) []int {
	type sc struct {
		id   int
		dist float64
	}
	scores := make([]sc, n)
	for i := 0; i < n; i++ {
		scores[i] = sc{id: i, dist: vecmath.L2(data[i*dim:(i+1)*dim], query)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist == scores[j].dist {
			return scores[i].id < scores[j].id
		}
		return scores[i].dist < scores[j].dist
	})
	if k > n {
		k = n
	}
	ids := make([]int, k)
	for i := range ids {
		ids[i] = scores[i].id
	}
	return ids
}

func TestInvalidParameters(t *testing.T) {
	if _, err := New(4, Params{M: 0, M0: 8, EfConstruction: 16}); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("M=0: want ErrInvalidParameter, got %v", err)
	}
	if _, err := New(0, Params{M: 4, M0: 8, EfConstruction: 16}); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("dim=0: want ErrInvalidParameter, got %v", err)
	}
	if _, err := Build(nil, 4, 0, Params{M: 4, M0: 8, EfConstruction: 16}); !errors.Is(err, ann.ErrEmptyInput) {
		t.Errorf("n=0: want ErrEmptyInput, got %v", err)
	}

	g, err := New(4, Params{M: 4, M0: 8, EfConstruction: 16})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.KnnSearch([]float32{0, 0, 0, 0}, 0, 16); !errors.Is(err, ann.ErrInvalidParameter) {
		t.Errorf("k=0: want ErrInvalidParameter, got %v", err)
	}
	if _, err := g.KnnSearch([]float32{0, 0}, 1, 16); !errors.Is(err, ann.ErrDimensionMismatch) {
		t.Errorf("short query: want ErrDimensionMismatch, got %v", err)
	}
	if err := g.Insert([]float32{0}); !errors.Is(err, ann.ErrDimensionMismatch) {
		t.Errorf("short insert: want ErrDimensionMismatch, got %v", err)
	}
}

func TestEmptySearch(t *testing.T) {
	g, err := New(2, Params{M: 4, M0: 8, EfConstruction: 16})
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.KnnSearch([]float32{0, 0}, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 0 {
		t.Errorf("empty index returned %d records", len(res.Records))
	}
}

func TestSingleVector(t *testing.T) {
	g, err := New(2, Params{M: 4, M0: 8, EfConstruction: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Insert([]float32{0, 0}); err != nil {
		t.Fatal(err)
	}

	res, err := g.KnnSearch([]float32{0, 0}, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(res.Records))
	}
	if res.Records[0].Handle != 0 || res.Records[0].Distance != 0 {
		t.Errorf("got (%d, %v), want (0, 0)", res.Records[0].Handle, res.Records[0].Distance)
	}
}

// TestGrid checks the 5x5 integer grid: the four nearest grid points of
// (2.1, 2.0) are (2,2), (3,2), (2,1), (2,3), with the equal-distance pair
// ordered by id.
func TestGrid(t *testing.T) {
	g, err := New(2, Params{M: 4, M0: 8, EfConstruction: 16, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			if err := g.Insert([]float32{float32(x), float32(y)}); err != nil {
				t.Fatal(err)
			}
		}
	}

	res, err := g.KnnSearch([]float32{2.1, 2.0}, 4, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 4 {
		t.Fatalf("got %d records, want 4", len(res.Records))
	}

	// id = 5x + y: (2,2)=12, (3,2)=17, (2,1)=11, (2,3)=13.
	wantIDs := []int{12, 17, 11, 13}
	for i, rec := range res.Records {
		if rec.Handle != wantIDs[i] {
			t.Errorf("rank %d: got id %d, want %d (records %v)", i, rec.Handle, wantIDs[i], res.Records)
		}
	}
	for i := 1; i < len(res.Records); i++ {
		if res.Records[i].Distance < res.Records[i-1].Distance {
			t.Errorf("distances not ascending: %v", res.Records)
		}
	}
}

func TestSelfMembership(t *testing.T) {
	const dim, n = 8, 200
	data := randomVecs(1, n, dim)
	g, err := Build(data, dim, n, Params{M: 8, M0: 16, EfConstruction: 64, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i += 17 {
		res, err := g.KnnSearch(data[i*dim:(i+1)*dim], 1, 64)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Records) == 0 || res.Records[0].Handle != i || res.Records[0].Distance != 0 {
			t.Errorf("query = vector %d: got %v", i, res.Records)
		}
	}
}

func TestSeededBuildIsDeterministic(t *testing.T) {
	const dim, n = 16, 300
	data := randomVecs(9, n, dim)
	p := Params{M: 8, M0: 16, EfConstruction: 32, Seed: 123}

	g1, err := Build(data, dim, n, p)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Build(data, dim, n, p)
	if err != nil {
		t.Fatal(err)
	}

	if g1.MaxLayer() != g2.MaxLayer() {
		t.Fatalf("max layers differ: %d vs %d", g1.MaxLayer(), g2.MaxLayer())
	}
	for id := 0; id < n; id++ {
		for l := 0; ; l++ {
			n1 := g1.Neighbors(id, l)
			n2 := g2.Neighbors(id, l)
			if len(n1) != len(n2) {
				t.Fatalf("node %d layer %d: %d vs %d neighbours", id, l, len(n1), len(n2))
			}
			if n1 == nil {
				break
			}
			for i := range n1 {
				if n1[i] != n2[i] {
					t.Fatalf("node %d layer %d: neighbour %d differs", id, l, i)
				}
			}
		}
	}
}

// recallAt runs nQuery seeded queries and returns mean recall@k against
// brute force.
func recallAt(t *testing.T, g *Graph, data []float32, dim, n, nQuery, k, efSearch int) float64 {
	t.Helper()
	queries := randomVecs(77, nQuery, dim)
	var total float64
	for q := 0; q < nQuery; q++ {
		query := queries[q*dim : (q+1)*dim]
		truth := bruteTopK(data, dim, n, query, k)
		want := make(map[int]bool, k)
		for _, id := range truth {
			want[id] = true
		}

		res, err := g.KnnSearch(query, k, efSearch)
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
	return total / float64(nQuery)
}

// TestRecall10 is the end-to-end recall bound: 10k random vectors in R^32,
// 100 queries, recall@10 >= 0.95.
func TestRecall10(t *testing.T) {
	if testing.Short() {
		t.Skip("long recall run")
	}
	const (
		dim    = 32
		n      = 10000
		nQuery = 100
		k      = 10
	)
	data := randomVecs(5, n, dim)
	g, err := Build(data, dim, n, Params{M: 16, M0: 32, EfConstruction: 100, Seed: 42})
	if err != nil {
		t.Fatal(err)
	}

	recall := recallAt(t, g, data, dim, n, nQuery, k, 100)
	if recall < 0.95 {
		t.Errorf("recall@10 = %.3f, want >= 0.95", recall)
	}
}

// TestRecallMonotonicInEf checks that widening the search frontier does not
// hurt recall (statistically; a small tolerance absorbs noise).
func TestRecallMonotonicInEf(t *testing.T) {
	const (
		dim    = 16
		n      = 1000
		nQuery = 50
		k      = 10
	)
	data := randomVecs(11, n, dim)
	g, err := Build(data, dim, n, Params{M: 16, M0: 32, EfConstruction: 64, Seed: 11})
	if err != nil {
		t.Fatal(err)
	}

	low := recallAt(t, g, data, dim, n, nQuery, k, 10)
	high := recallAt(t, g, data, dim, n, nQuery, k, 100)
	if high+0.02 < low {
		t.Errorf("recall fell as efSearch grew: ef=10 → %.3f, ef=100 → %.3f", low, high)
	}
}

// BenchmarkRecall10 reports recall@10 of HNSW vs brute force on 1000 vectors.
func BenchmarkRecall10(b *testing.B) {
	const (
		dim    = 32
		nIndex = 1000
		nQuery = 50
		k      = 10
	)
	data := randomVecs(42, nIndex, dim)
	g, err := Build(data, dim, nIndex, Params{M: 16, M0: 32, EfConstruction: 100, Seed: 42})
	if err != nil {
		b.Fatal(err)
	}
	queries := randomVecs(43, nQuery, dim)

	b.ResetTimer()

	var totalRecall float64
	for i := 0; i < nQuery; i++ {
		query := queries[i*dim : (i+1)*dim]
		truth := bruteTopK(data, dim, nIndex, query, k)
		want := make(map[int]bool, k)
		for _, id := range truth {
			want[id] = true
		}
		res, err := g.KnnSearch(query, k, 100)
		if err != nil {
			b.Fatal(err)
		}
		hits := 0
		for _, rec := range res.Records {
			if want[rec.Handle] {
				hits++
			}
		}
		totalRecall += float64(hits) / float64(k)
	}

	recall := totalRecall / float64(nQuery)
	b.ReportMetric(recall, "recall@10")

	if recall < 0.80 {
		b.Errorf("recall@10 too low: %.3f (want >= 0.80)", recall)
	}
}
