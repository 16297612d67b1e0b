// Package ann defines the vocabulary shared by the index engines: error
// kinds, the per-search result object, and graph degree statistics.
package ann

import (
	"errors"
	"time"

	"github.com/screenager/proxima/internal/queue"
)

// Error kinds surfaced by engine constructors and searches. Callers match
// with errors.Is; engines wrap these with context via fmt.Errorf and %w.
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrEmptyInput        = errors.New("empty input")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Result carries one search's ranked records and its traversal counters.
// Records are ordered ascending by (distance, id).
type Result struct {
	Records      []queue.Record[int]
	Elapsed      time.Duration
	NodesVisited int
	Hops         int
	Depth        int
}

// IDs returns just the node ids of the ranked records, in result order.
func (r Result) IDs() []int {
	ids := make([]int, len(r.Records))
	for i, rec := range r.Records {
		ids[i] = rec.Handle
	}
	return ids
}

// GraphStats summarizes node out-degrees of a built structure.
type GraphStats struct {
	AvgDegree int
	MaxDegree int
	MinDegree int
}
