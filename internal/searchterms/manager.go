package searchterms

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrEmptyPool is returned when no usable term is supplied
var ErrEmptyPool = errors.New("search term pool is empty")

var (
	variationModifiers = []string{"", "best", "top"}
	variationSuffixes  = []string{"", "services", "company"}
)

// Option configures a Manager
type Option func(*Manager)

// WithPolicy replaces the default RandomPolicy
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithVariations expands the pool with ExpandVariations before use
func WithVariations() Option {
	return func(m *Manager) {
		m.expand = true
	}
}

// WithClock overrides the time source used for usage timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager hands out queries from a shared pool. Next is safe to call from
// concurrently running sessions.
type Manager struct {
	mu     sync.Mutex
	pool   []string
	suffix string
	policy Policy
	rng    *rand.Rand
	state  RotationState
	uses   map[string]int
	now    func() time.Time
	expand bool
}

// NewManager builds a Manager over pool. The same seed, pool and policy
// always yield the same sequence of queries.
func NewManager(pool []string, suffix string, seed uint64, opts ...Option) (*Manager, error) {
	m := &Manager{
		suffix: strings.TrimSpace(suffix),
		policy: RandomPolicy{},
		rng:    rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
		state:  NewRotationState(),
		uses:   make(map[string]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	terms := dedupe(pool)
	if m.expand {
		terms = ExpandVariations(terms)
	}
	if len(terms) == 0 {
		return nil, ErrEmptyPool
	}
	m.pool = terms

	log.Debug().
		Int("terms", len(terms)).
		Bool("variations", m.expand).
		Msg("Search term pool loaded")

	return m, nil
}

// Next returns the next query: the selected term plus the configured suffix.
func (m *Manager) Next() string {
	_, query := m.NextTerm()
	return query
}

// NextTerm returns the selected base term and the composed query
func (m *Manager) NextTerm() (term, query string) {
	m.mu.Lock()
	idx, state := Select(m.pool, m.state, m.policy, m.rng, m.now())
	m.state = state
	term = m.pool[idx]
	m.uses[term]++
	m.mu.Unlock()

	return term, Compose(term, m.suffix)
}

// Compose appends suffix to term, separated by a space.
func Compose(term, suffix string) string {
	if suffix == "" {
		return term
	}
	return term + " " + suffix
}

// Len reports the size of the (possibly expanded) pool
func (m *Manager) Len() int {
	return len(m.pool)
}

// TermUsage is one entry of Stats
type TermUsage struct {
	Term  string
	Count int
}

// Stats returns per-term usage counts, most used first.
func (m *Manager) Stats() []TermUsage {
	m.mu.Lock()
	out := make([]TermUsage, 0, len(m.uses))
	for term, n := range m.uses {
		out = append(out, TermUsage{Term: term, Count: n})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	return out
}

// ExpandVariations returns each term followed by its modifier and suffix
// variations ("best plumber", "plumber services", ...), without duplicates.
func ExpandVariations(terms []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, term := range terms {
		add(term)
		for _, mod := range variationModifiers {
			for _, suf := range variationSuffixes {
				if mod == "" && suf == "" {
					continue
				}
				add(strings.TrimSpace(strings.Join([]string{mod, term, suf}, " ")))
			}
		}
	}
	return out
}

func dedupe(pool []string) []string {
	seen := make(map[string]bool, len(pool))
	out := make([]string, 0, len(pool))
	for _, t := range pool {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
