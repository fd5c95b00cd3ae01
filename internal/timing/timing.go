// Package timing samples the counts and delays that pace a search session.
package timing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/config"
)

// Model draws every random count and delay of one session from an explicit
// source. A Model is safe for concurrent use, but each session normally owns
// its own so that seeded runs stay reproducible.
type Model struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New wraps rng. A nil rng gets a randomly seeded PCG source.
func New(rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Model{rng: rng}
}

// NewSeeded returns a Model whose draws are fully determined by seed
func NewSeeded(seed uint64) *Model {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// SessionSearchCount returns a count drawn uniformly from [r.Min, r.Max].
func (m *Model) SessionSearchCount(r config.IntRange) int {
	return m.Count(r)
}

// Count returns an integer drawn uniformly from [r.Min, r.Max].
func (m *Model) Count(r config.IntRange) int {
	if r.Max <= r.Min {
		return r.Min
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return r.Min + m.rng.IntN(r.Max-r.Min+1)
}

// InterActionDelay is the pause between two browser actions
func (m *Model) InterActionDelay(r config.DurationRange, variation float64) time.Duration {
	return m.perturbed(r, variation)
}

// TypingInterCharDelay is sampled once per typed character and is never
// perturbed.
func (m *Model) TypingInterCharDelay(r config.DurationRange) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uniform(r)
}

// InterSearchDelay is the pause between two queries of one session
func (m *Model) InterSearchDelay(r config.DurationRange, variation float64) time.Duration {
	return m.perturbed(r, variation)
}

// InterSessionDelay is the pause the caller applies between two sessions
func (m *Model) InterSessionDelay(r config.DurationRange, variation float64) time.Duration {
	return m.perturbed(r, variation)
}

// Float64 returns a uniform draw from [0, 1), used for Bernoulli trials.
func (m *Model) Float64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// perturbed draws base from [min, max] and then moves it by up to
// ±variation·base. The result stays inside [min, max·(1+variation)].
func (m *Model) perturbed(r config.DurationRange, variation float64) time.Duration {
	if variation < 0 {
		variation = 0
	}
	if variation > 1 {
		variation = 1
	}

	m.mu.Lock()
	base := m.uniform(r)
	shift := (2*m.rng.Float64() - 1) * variation * float64(base)
	m.mu.Unlock()

	d := base + time.Duration(shift)
	if d < r.Min {
		d = r.Min
	}
	if upper := time.Duration(float64(r.Max) * (1 + variation)); d > upper {
		d = upper
	}
	if d < 0 {
		d = 0
	}
	return d
}

// uniform must be called with mu held
func (m *Model) uniform(r config.DurationRange) time.Duration {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + time.Duration(m.rng.Int64N(int64(r.Max-r.Min)+1))
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
