package queue

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertEviction(t *testing.T) {
	q := NewBounded[int](3)
	for id, d := range []float64{5, 2, 8, 1, 4} {
		q.Insert(Record[int]{Handle: id, Distance: d})
	}

	require.Equal(t, 3, q.Len())
	recs := q.Records()
	assert.Equal(t, []float64{1, 2, 4}, distances(recs))

	worst, ok := q.Worst()
	require.True(t, ok)
	assert.Equal(t, 4.0, worst.Distance)

	// Equal to the current worst: dropped (strict <).
	q.Insert(Record[int]{Handle: 99, Distance: 4})
	assert.Equal(t, []float64{1, 2, 4}, distances(q.Records()))
	worst, _ = q.Worst()
	assert.Equal(t, 4, worst.Handle)
}

func TestInsertIntoEmptyAlwaysAdmits(t *testing.T) {
	q := NewBounded[int](1)
	q.Insert(Record[int]{Handle: 7, Distance: 123.5})
	best, ok := q.Best()
	require.True(t, ok)
	assert.Equal(t, 7, best.Handle)
}

func TestDistanceTiesKeepDistinctHandles(t *testing.T) {
	q := NewBounded[int](4)
	q.Insert(Record[int]{Handle: 2, Distance: 1.0})
	q.Insert(Record[int]{Handle: 1, Distance: 1.0})
	q.Insert(Record[int]{Handle: 3, Distance: 1.0})

	require.Equal(t, 3, q.Len())
	recs := q.Records()
	assert.Equal(t, []int{1, 2, 3}, handles(recs))

	// Same (handle, distance) pair is a no-op, not a duplicate.
	q.Insert(Record[int]{Handle: 2, Distance: 1.0})
	assert.Equal(t, 3, q.Len())
}

func TestPopBothEnds(t *testing.T) {
	q := NewBounded[int](Unbounded)
	for id, d := range []float64{3, 1, 2} {
		q.Insert(Record[int]{Handle: id, Distance: d})
	}

	best, ok := q.PopBest()
	require.True(t, ok)
	assert.Equal(t, 1.0, best.Distance)

	worst, ok := q.PopWorst()
	require.True(t, ok)
	assert.Equal(t, 3.0, worst.Distance)

	assert.Equal(t, 1, q.Len())

	_, _ = q.PopBest()
	_, ok = q.PopBest()
	assert.False(t, ok)
}

func TestRecordsViewDoesNotMutate(t *testing.T) {
	q := NewBounded[int](8)
	for id, d := range []float64{4, 2, 9} {
		q.Insert(Record[int]{Handle: id, Distance: d})
	}
	first := q.Records()
	second := q.Records()
	assert.Equal(t, first, second)
	assert.Equal(t, 3, q.Len())
}

func TestQueueProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	mkQueue := func(capacity int, dists []float64) *Bounded[int] {
		q := NewBounded[int](capacity)
		for id, d := range dists {
			q.Insert(Record[int]{Handle: id, Distance: d})
		}
		return q
	}

	properties.Property("never exceeds capacity", prop.ForAll(
		func(capacity int, dists []float64) bool {
			return mkQueue(capacity, dists).Len() <= capacity
		},
		gen.IntRange(1, 16),
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.Property("worst equals max distance of members", prop.ForAll(
		func(capacity int, dists []float64) bool {
			q := mkQueue(capacity, dists)
			if q.Len() == 0 {
				return true
			}
			worst, _ := q.Worst()
			max := 0.0
			for _, r := range q.Records() {
				if r.Distance > max {
					max = r.Distance
				}
			}
			return worst.Distance == max
		},
		gen.IntRange(1, 16),
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.Property("records ascend by distance", prop.ForAll(
		func(capacity int, dists []float64) bool {
			recs := mkQueue(capacity, dists).Records()
			for i := 1; i < len(recs); i++ {
				if recs[i].Distance < recs[i-1].Distance {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 16),
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

func distances(recs []Record[int]) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = r.Distance
	}
	return out
}

func handles(recs []Record[int]) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Handle
	}
	return out
}
