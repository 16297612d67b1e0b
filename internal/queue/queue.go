// Package queue provides the bounded best-distance queue that every index
// engine uses as its traversal frontier and result set. A queue is an ordered
// set of (handle, distance) records capped at a fixed capacity: once full, a
// new record only enters by evicting the current worst, and only when it is
// strictly closer.
package queue

import (
	"cmp"
	"math"

	"github.com/google/btree"
)

// Unbounded is a capacity large enough that eviction never triggers.
const Unbounded = math.MaxInt

// Record pairs an item handle with its distance to some query point.
// Records order by (distance asc, handle asc); the handle breaks distance
// ties so that distinct items with equal distances never collapse.
type Record[H cmp.Ordered] struct {
	Handle   H
	Distance float64
}

// Less reports whether r sorts before other under the record total order.
func (r Record[H]) Less(other Record[H]) bool {
	if r.Distance == other.Distance {
		return r.Handle < other.Handle
	}
	return r.Distance < other.Distance
}

// Bounded is a size-capped ordered set of records.
type Bounded[H cmp.Ordered] struct {
	capacity int
	tree     *btree.BTreeG[Record[H]]
}

// NewBounded returns an empty queue holding at most capacity records.
func NewBounded[H cmp.Ordered](capacity int) *Bounded[H] {
	return &Bounded[H]{
		capacity: capacity,
		tree: btree.NewG(8, func(a, b Record[H]) bool {
			return a.Less(b)
		}),
	}
}

// Insert admits r if there is room, or if r is strictly closer than the
// current worst record (which is then evicted). A full queue drops r when
// its distance ties the worst.
func (q *Bounded[H]) Insert(r Record[H]) {
	if q.tree.Len() < q.capacity {
		q.tree.ReplaceOrInsert(r)
		return
	}
	if q.tree.Has(r) {
		return
	}
	worst, ok := q.tree.Max()
	if !ok || r.Distance >= worst.Distance {
		return
	}
	q.tree.DeleteMax()
	q.tree.ReplaceOrInsert(r)
}

// PopBest removes and returns the closest record.
func (q *Bounded[H]) PopBest() (Record[H], bool) {
	return q.tree.DeleteMin()
}

// PopWorst removes and returns the furthest record.
func (q *Bounded[H]) PopWorst() (Record[H], bool) {
	return q.tree.DeleteMax()
}

// Best returns the closest record without removing it.
func (q *Bounded[H]) Best() (Record[H], bool) {
	return q.tree.Min()
}

// Worst returns the furthest record without removing it.
func (q *Bounded[H]) Worst() (Record[H], bool) {
	return q.tree.Max()
}

// Len returns the number of records held.
func (q *Bounded[H]) Len() int {
	return q.tree.Len()
}

// Records returns a copy of the contents in ascending distance order.
// Enumerating the copy does not disturb the queue.
func (q *Bounded[H]) Records() []Record[H] {
	out := make([]Record[H], 0, q.tree.Len())
	q.tree.Ascend(func(r Record[H]) bool {
		out = append(out, r)
		return true
	})
	return out
}
