// Package searchterms rotates queries over a configured term pool.
package searchterms

import (
	"maps"
	"math/rand/v2"
	"time"
)

// RotationState is the complete rotation memory of a term pool. Select never
// mutates the state it is given; it returns the successor.
type RotationState struct {
	LastIndex int                  // -1 before the first selection
	LastUsed  map[string]time.Time // Per-term timestamp of the latest selection
}

// NewRotationState returns the state of a pool that has never been drawn from
func NewRotationState() RotationState {
	return RotationState{LastIndex: -1, LastUsed: map[string]time.Time{}}
}

// Policy proposes the next index. Select enforces no-immediate-repeat on
// top of whatever the policy returns.
type Policy interface {
	Choose(pool []string, state RotationState, rng *rand.Rand) int
}

// RandomPolicy draws uniformly from the pool
type RandomPolicy struct{}

func (RandomPolicy) Choose(pool []string, _ RotationState, rng *rand.Rand) int {
	return rng.IntN(len(pool))
}

// RoundRobinPolicy walks the pool in order
type RoundRobinPolicy struct{}

func (RoundRobinPolicy) Choose(pool []string, state RotationState, _ *rand.Rand) int {
	return (state.LastIndex + 1) % len(pool)
}

// FreshnessPolicy prefers the least recently used term. Never-used terms
// come first; ties are broken randomly.
type FreshnessPolicy struct{}

func (FreshnessPolicy) Choose(pool []string, state RotationState, rng *rand.Rand) int {
	var (
		oldest     time.Time
		candidates []int
	)
	for i, term := range pool {
		used := state.LastUsed[term]
		switch {
		case len(candidates) == 0 || used.Before(oldest):
			oldest = used
			candidates = append(candidates[:0], i)
		case used.Equal(oldest):
			candidates = append(candidates, i)
		}
	}
	return candidates[rng.IntN(len(candidates))]
}

// Select picks the next index of pool under policy and returns it with the
// successor state. For pools larger than one the returned index never equals
// state.LastIndex. pool must not be empty.
func Select(pool []string, state RotationState, policy Policy, rng *rand.Rand, at time.Time) (int, RotationState) {
	n := len(pool)
	if policy == nil {
		policy = RandomPolicy{}
	}

	idx := 0
	if n > 1 {
		idx = policy.Choose(pool, state, rng)
		if idx < 0 || idx >= n {
			idx = rng.IntN(n)
		}
		if idx == state.LastIndex {
			// uniform over every other index
			idx = (idx + 1 + rng.IntN(n-1)) % n
		}
	}

	next := RotationState{LastIndex: idx, LastUsed: maps.Clone(state.LastUsed)}
	if next.LastUsed == nil {
		next.LastUsed = make(map[string]time.Time, n)
	}
	next.LastUsed[pool[idx]] = at
	return idx, next
}
