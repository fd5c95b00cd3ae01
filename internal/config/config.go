package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/util"
)

// ErrInvalid is wrapped by every configuration validation failure
var ErrInvalid = errors.New("invalid configuration")

// IntRange is an inclusive integer range
type IntRange struct {
	Min int
	Max int
}

// DurationRange is an inclusive duration range
type DurationRange struct {
	Min time.Duration
	Max time.Duration
}

func (r IntRange) valid() bool {
	return r.Min >= 0 && r.Min <= r.Max
}

func (r DurationRange) valid() bool {
	return r.Min >= 0 && r.Min <= r.Max
}

// String renders the range as "min-max"
func (r DurationRange) String() string {
	return fmt.Sprintf("%s-%s", r.Min, r.Max)
}

// ProxyConfig holds the parameters of the rotating proxy identity template
type ProxyConfig struct {
	Scheme          string   // URL scheme of the proxy endpoint (http/https)
	Host            string   // Proxy gateway host
	Port            int      // Proxy gateway port
	CustomerID      string   // Account identifier embedded in the username
	Country         string   // Exit country code embedded in the username
	SessionIDRange  IntRange // Inclusive range the per-session id is drawn from
	ValidityMinutes int      // Sticky session lifetime ("sesstime")
	Secret          string   // Proxy password
}

// RetryConfig holds configuration for navigation retry behaviour
type RetryConfig struct {
	MaxAttempts     int           // Maximum number of navigation attempts
	InitialInterval time.Duration // Initial retry interval
	MaxInterval     time.Duration // Maximum retry interval (cap for exponential backoff)
	Multiplier      float64       // Backoff multiplier (typically 2.0)
	Jitter          bool          // Add randomness to the backoff
}

// PollConfig bounds the CAPTCHA solution polling loop
type PollConfig struct {
	InitialWait time.Duration // Wait after job submission before the first poll
	Interval    time.Duration // Fixed delay between polls
	MaxAttempts int           // Poll ceiling
}

// Config is the validated session configuration. Treat it as a value: the
// With* helpers return modified copies and never touch the receiver.
type Config struct {
	SearchTerms      []string // Base search term pool
	ExpandVariations bool     // Expand the pool with modifier/suffix variations
	Suffix           string   // Appended to every query (e.g. a domain suffix)
	TargetSite       string   // Target matcher: domain or URL fragment to click
	SearchEngineURL  string   // Page opened in NAVIGATE
	Country          string   // Fingerprint country (also used for locale)

	SearchCount      IntRange
	ClickProbability float64

	ActionDelay     DurationRange
	TypingDelay     DurationRange
	SearchInterval  DurationRange
	SessionInterval DurationRange
	VariationFactor float64

	Proxy ProxyConfig

	CaptchaAPIKey           string
	CaptchaPoll             PollConfig
	MaxChallengesPerSession int

	Navigation RetryConfig

	Headless      bool
	Screenshots   bool
	ScreenshotDir string
}

// Defaults returns a Config populated with the stock timing, proxy and retry
// values. The search pool and proxy credentials still need to be supplied.
func Defaults() Config {
	return Config{
		SearchEngineURL:  "https://www.google.com/",
		Country:          "US",
		SearchCount:      IntRange{Min: 5, Max: 20},
		ClickProbability: 0.3,
		ActionDelay:      DurationRange{Min: time.Second, Max: 3 * time.Second},
		TypingDelay:      DurationRange{Min: 50 * time.Millisecond, Max: 150 * time.Millisecond},
		SearchInterval:   DurationRange{Min: 60 * time.Second, Max: 120 * time.Second},
		SessionInterval:  DurationRange{Min: 5 * time.Minute, Max: 15 * time.Minute},
		VariationFactor:  0.3,
		Proxy: ProxyConfig{
			Scheme:          "https",
			Host:            "pr.oxylabs.io",
			Port:            7777,
			Country:         "us",
			SessionIDRange:  IntRange{Min: 606150694, Max: 606250693},
			ValidityMinutes: 10,
		},
		CaptchaPoll: PollConfig{
			InitialWait: 15 * time.Second,
			Interval:    5 * time.Second,
			MaxAttempts: 24,
		},
		MaxChallengesPerSession: 3,
		Navigation: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			Jitter:          true,
		},
		Screenshots:   true,
		ScreenshotDir: "./data/screenshots",
	}
}

// New normalises the search engine URL, validates cfg and returns a copy
// that no longer shares the caller's term slice.
func New(cfg Config) (Config, error) {
	cfg.SearchTerms = append([]string(nil), cfg.SearchTerms...)
	cfg.SearchEngineURL = util.NormaliseURL(cfg.SearchEngineURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError lists every field that failed validation
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks ranges, probabilities and required identity fields.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	hasTerm := false
	for _, t := range c.SearchTerms {
		if strings.TrimSpace(t) != "" {
			hasTerm = true
			break
		}
	}
	if !hasTerm {
		add("search term pool is empty")
	}
	if strings.TrimSpace(c.SearchEngineURL) == "" {
		add("search engine URL is required")
	}

	if !c.SearchCount.valid() {
		add("search count range %d-%d is invalid", c.SearchCount.Min, c.SearchCount.Max)
	} else if c.SearchCount.Max == 0 {
		add("search count max must be at least 1")
	}
	if c.ClickProbability < 0 || c.ClickProbability > 1 {
		add("click probability %v outside [0,1]", c.ClickProbability)
	}
	if c.VariationFactor < 0 || c.VariationFactor > 1 {
		add("behaviour variation factor %v outside [0,1]", c.VariationFactor)
	}

	ranges := map[string]DurationRange{
		"action delay":     c.ActionDelay,
		"typing delay":     c.TypingDelay,
		"search interval":  c.SearchInterval,
		"session interval": c.SessionInterval,
	}
	for _, name := range []string{"action delay", "typing delay", "search interval", "session interval"} {
		if r := ranges[name]; !r.valid() {
			add("%s range %s is invalid", name, r)
		}
	}

	p := c.Proxy
	if p.Host == "" {
		add("proxy host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		add("proxy port %d is invalid", p.Port)
	}
	if p.CustomerID == "" {
		add("proxy customer id is required")
	}
	if p.Country == "" {
		add("proxy country is required")
	}
	if p.Secret == "" {
		add("proxy secret is required")
	}
	if !p.SessionIDRange.valid() {
		add("proxy session id range %d-%d is invalid", p.SessionIDRange.Min, p.SessionIDRange.Max)
	}
	if p.ValidityMinutes <= 0 {
		add("proxy session validity must be positive")
	}

	if c.Navigation.MaxAttempts < 1 {
		add("navigation attempts must be at least 1")
	}
	if c.Navigation.Multiplier < 1 {
		add("navigation backoff multiplier must be at least 1")
	}
	if c.CaptchaPoll.MaxAttempts < 1 {
		add("captcha poll attempts must be at least 1")
	}
	if c.CaptchaPoll.Interval < 0 || c.CaptchaPoll.InitialWait < 0 {
		add("captcha poll delays must not be negative")
	}
	if c.MaxChallengesPerSession < 1 {
		add("max challenges per session must be at least 1")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// WithSearchCount fixes the planned search count to n
func (c Config) WithSearchCount(n int) Config {
	c.SearchCount = IntRange{Min: n, Max: n}
	return c
}

// WithHeadless overrides the headless flag
func (c Config) WithHeadless(headless bool) Config {
	c.Headless = headless
	return c
}

// WithTargetSite overrides the target matcher
func (c Config) WithTargetSite(site string) Config {
	c.TargetSite = site
	return c
}

// Terms returns a copy of the configured search term pool
func (c Config) Terms() []string {
	return append([]string(nil), c.SearchTerms...)
}
