// Package checks verifies the external components a session depends on:
// the proxy gateway, the CAPTCHA solving service and the browser.
package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/rs/zerolog/log"
)

// Component names accepted by Checker.Run
const (
	Proxy   = "proxy"
	Captcha = "captcha"
	Browser = "browser"
	All     = "all"
)

// Result is the outcome of one component check
type Result struct {
	Name     string
	OK       bool
	Skipped  bool
	Detail   string
	Duration time.Duration
	Err      error
}

// Checker runs component checks against one configuration
type Checker struct {
	Config       config.Config
	Solver       captcha.Solver
	NewBrowser   session.BrowserFactory
	Fingerprints *fingerprint.Manager
	ProbeURL     string        // URL fetched through the proxy
	Timeout      time.Duration // Per-check ceiling
}

const (
	defaultProbeURL = "https://ip.oxylabs.io/location"
	defaultTimeout  = 30 * time.Second
)

// Run executes the named check, or every check for "all"
func (c *Checker) Run(ctx context.Context, name string) ([]Result, error) {
	switch name {
	case Proxy:
		return []Result{c.Proxy(ctx)}, nil
	case Captcha:
		return []Result{c.Captcha(ctx)}, nil
	case Browser:
		return []Result{c.Browser(ctx)}, nil
	case All, "":
		return []Result{c.Proxy(ctx), c.Captcha(ctx), c.Browser(ctx)}, nil
	default:
		return nil, fmt.Errorf("unknown check %q (want proxy, captcha, browser or all)", name)
	}
}

// Passed reports whether no check failed. Skipped checks count as passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.OK && !r.Skipped {
			return false
		}
	}
	return true
}

// Captcha verifies the solver credentials by reading the account balance
func (c *Checker) Captcha(ctx context.Context) Result {
	res := Result{Name: Captcha}
	if c.Solver == nil {
		res.Skipped = true
		res.Detail = "no CAPTCHA API key configured"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	balance, err := c.Solver.Balance(ctx)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("balance request failed: %w", err)
		return c.logged(res)
	}

	res.OK = balance > 0
	res.Detail = fmt.Sprintf("balance %.4f", balance)
	if !res.OK {
		res.Err = errors.New("solver account has no balance")
	}
	return c.logged(res)
}

// Browser launches a browser behind a fresh identity and opens the search
// engine.
func (c *Checker) Browser(ctx context.Context) Result {
	res := Result{Name: Browser}
	if c.NewBrowser == nil {
		res.Skipped = true
		res.Detail = "no browser factory configured"
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	fps := c.fingerprints()
	id := session.Identity{
		SessionID:   "check",
		Fingerprint: fps.NewFingerprint(c.Config.Country),
		Proxy:       fps.NewProxyIdentity(c.Config.Proxy),
		Headless:    true,
	}

	start := time.Now()
	b, err := c.NewBrowser(ctx, id)
	if err != nil {
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("launch failed: %w", err)
		return c.logged(res)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close check browser")
		}
	}()

	if err := b.Open(ctx, c.Config.SearchEngineURL); err != nil {
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("open %s: %w", c.Config.SearchEngineURL, err)
		return c.logged(res)
	}

	challenge, err := b.DetectChallenge(ctx)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("inspect page: %w", err)
		return c.logged(res)
	}

	res.OK = true
	res.Detail = "search engine reachable"
	if challenge.Present {
		res.Detail = fmt.Sprintf("search engine reachable but showing a %s challenge", challenge.Type)
	}
	return c.logged(res)
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *Checker) fingerprints() *fingerprint.Manager {
	if c.Fingerprints == nil {
		c.Fingerprints = fingerprint.NewManager(nil)
	}
	return c.Fingerprints
}

func (c *Checker) logged(res Result) Result {
	event := log.Info()
	if !res.OK {
		event = log.Error().Err(res.Err)
	}
	event.
		Str("check", res.Name).
		Str("detail", res.Detail).
		Dur("duration", res.Duration).
		Msg("Component check finished")
	return res
}
