// Package sampler draws comparison batches from the item pool.
package sampler

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Sampler draws uniform samples without replacement. It is safe for
// concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithSeed makes draws reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Sampler) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand injects a random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Sampler) {
		if r != nil {
			s.rng = r
		}
	}
}

// New returns a Sampler seeded from the clock unless an option overrides it.
func New(opts ...Option) *Sampler {
	now := uint64(time.Now().UnixNano())
	s := &Sampler{rng: rand.New(rand.NewPCG(now, now>>1))}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Draw returns n distinct ids chosen uniformly from ids. The input slice is
// not modified.
func (s *Sampler) Draw(ids []string, n int) ([]string, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative sample size %d: %w", n, ErrInvalidSize)
	}
	if len(ids) < n {
		return nil, fmt.Errorf("need %d items, pool has %d: %w", n, len(ids), ErrInsufficientPool)
	}

	pool := make([]string, len(ids))
	copy(pool, ids)

	s.mu.Lock()
	// partial Fisher-Yates: the first n slots end up a uniform sample
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	s.mu.Unlock()

	return pool[:n:n], nil
}
