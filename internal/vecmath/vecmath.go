// Package vecmath holds the distance metric and random number source shared
// by the index engines.
package vecmath

import (
	"math/rand"

	"github.com/viterin/vek/vek32"
)

// L2 returns the Euclidean distance between a and b. Both slices must have
// the same length.
func L2(a, b []float32) float64 {
	return float64(vek32.Distance(a, b))
}

// RNG is a seedable uniform random source. Engines built with the same seed
// and the same input order produce identical structures.
type RNG struct {
	r *rand.Rand
}

// NewRNG returns a source seeded with seed.
func NewRNG(seed int64) *RNG {
	return &RNG{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a uniform double in [0, 1).
func (g *RNG) Float64() float64 {
	return g.r.Float64()
}

// IntBetween returns a uniform int in [min, max], both ends inclusive.
func (g *RNG) IntBetween(min, max int) int {
	return min + g.r.Intn(max-min+1)
}
