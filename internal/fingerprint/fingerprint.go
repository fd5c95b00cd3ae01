// Package fingerprint builds the browser and proxy identity a session
// presents for its whole lifetime.
package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/Harvey-AU/searchpilot/internal/config"
)

// Viewport is a browser window size in CSS pixels
type Viewport struct {
	Width  int
	Height int
}

// Fingerprint is immutable once generated
type Fingerprint struct {
	Country       string
	UserAgent     string
	Platform      string
	Locales       []string
	Timezone      string
	WebGLVendor   string
	WebGLRenderer string
	Viewport      Viewport
}

// AcceptLanguage renders the locale list as an Accept-Language header value.
func (f Fingerprint) AcceptLanguage() string {
	parts := make([]string, 0, len(f.Locales))
	for i, l := range f.Locales {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := max(1.0-0.1*float64(i), 0.1)
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Manager draws fingerprints and proxy identities from an explicit source
type Manager struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewManager wraps rng. A nil rng gets a randomly seeded PCG source.
func NewManager(rng *rand.Rand) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Manager{rng: rng}
}

// NewFingerprint picks one curated device profile and one viewport for
// country. Unknown countries fall back to the US table.
func (m *Manager) NewFingerprint(country string) Fingerprint {
	country = strings.ToUpper(strings.TrimSpace(country))
	profile, ok := countryProfiles[country]
	if !ok {
		country = defaultCountry
		profile = countryProfiles[defaultCountry]
	}

	m.mu.Lock()
	device := profile.Devices[m.rng.IntN(len(profile.Devices))]
	viewport := viewports[m.rng.IntN(len(viewports))]
	m.mu.Unlock()

	return Fingerprint{
		Country:       country,
		UserAgent:     device.UserAgent,
		Platform:      device.Platform,
		Locales:       slices.Clone(profile.Locales),
		Timezone:      profile.Timezone,
		WebGLVendor:   device.WebGLVendor,
		WebGLRenderer: device.WebGLRenderer,
		Viewport:      viewport,
	}
}

// NewProxyIdentity draws a session id uniformly from the configured
// inclusive range. The id stays fixed for the session.
func (m *Manager) NewProxyIdentity(p config.ProxyConfig) ProxyIdentity {
	id := p.SessionIDRange.Min
	if span := p.SessionIDRange.Max - p.SessionIDRange.Min; span > 0 {
		m.mu.Lock()
		id += m.rng.IntN(span + 1)
		m.mu.Unlock()
	}

	return ProxyIdentity{
		Scheme:          p.Scheme,
		Host:            p.Host,
		Port:            p.Port,
		CustomerID:      p.CustomerID,
		Country:         p.Country,
		SessionID:       id,
		ValidityMinutes: p.ValidityMinutes,
		Secret:          p.Secret,
	}
}
