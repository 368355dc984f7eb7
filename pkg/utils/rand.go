package utils

import (
	"math/rand/v2"
	"time"
)

// RandSource is the explicit generator threaded through samplers and search
// algorithms. Two sources with the same seed produce the same stream.
//
// Not safe for concurrent use; hand each goroutine a Child.
type RandSource struct {
	seed int64
	rng  *rand.Rand
}

// NewRandSource seeds a PCG generator. A zero seed picks one from the clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		seed: seed,
		rng:  rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
}

func (r *RandSource) Seed() int64 { return r.seed }

// Float64 returns a value in [0, 1)
func (r *RandSource) Float64() float64 { return r.rng.Float64() }

// Intn returns a value in [0, n); it panics when n <= 0
func (r *RandSource) Intn(n int) int { return r.rng.IntN(n) }

// BernoulliBool is true with probability p
func (r *RandSource) BernoulliBool(p float64) bool {
	return r.rng.Float64() < p
}

// Child derives an independent source whose seed comes from r's stream
func (r *RandSource) Child() *RandSource {
	seed := r.rng.Int64()
	if seed == 0 {
		seed = 1
	}
	return NewRandSource(seed)
}
