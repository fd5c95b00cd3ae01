// Package session runs one search session as an explicit state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
	"github.com/Harvey-AU/searchpilot/internal/observability"
	"github.com/Harvey-AU/searchpilot/internal/searchterms"
	"github.com/Harvey-AU/searchpilot/internal/timing"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	screenshotTimeout = 10 * time.Second
	scrollBackChance  = 0.3
)

// targetScrolls bounds how far a visitor reads down the target page
var targetScrolls = config.IntRange{Min: 2, Max: 5}

// Options wires an Orchestrator. Config and NewBrowser are required; the
// rest default to freshly seeded instances.
type Options struct {
	Config       config.Config
	NewBrowser   BrowserFactory
	Terms        *searchterms.Manager // may be shared between sessions
	Timing       *timing.Model        // owned by this session
	Fingerprints *fingerprint.Manager
	Solver       captcha.Solver
	Usage        UsageRecorder
	Sleep        func(context.Context, time.Duration) error
}

// Orchestrator drives one session from INIT to TERMINATE
type Orchestrator struct {
	cfg          config.Config
	newBrowser   BrowserFactory
	terms        *searchterms.Manager
	timing       *timing.Model
	fingerprints *fingerprint.Manager
	solver       captcha.Solver
	usage        UsageRecorder
	sleep        func(context.Context, time.Duration) error
	initErr      error
}

// New builds an Orchestrator. Configuration problems surface from Run as a
// ConfigError report, never from New.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:          opts.Config,
		newBrowser:   opts.NewBrowser,
		terms:        opts.Terms,
		timing:       opts.Timing,
		fingerprints: opts.Fingerprints,
		solver:       opts.Solver,
		usage:        opts.Usage,
		sleep:        opts.Sleep,
	}
	if o.timing == nil {
		o.timing = timing.New(nil)
	}
	if o.fingerprints == nil {
		o.fingerprints = fingerprint.NewManager(nil)
	}
	if o.sleep == nil {
		o.sleep = timing.Sleep
	}
	if o.terms == nil {
		var termOpts []searchterms.Option
		if o.cfg.ExpandVariations {
			termOpts = append(termOpts, searchterms.WithVariations())
		}
		o.terms, o.initErr = searchterms.NewManager(o.cfg.SearchTerms, o.cfg.Suffix, rand.Uint64(), termOpts...)
	}
	return o
}

// run is the private state of one Run call
type run struct {
	id           string
	state        State
	session      Session
	report       Report
	browser      Browser
	resolver     *captcha.Resolver
	scan         ScanReport
	needNavigate bool
	span         trace.Span
}

// Run executes the session and always returns a Report. The browser, once
// acquired, is closed on every path out of Run.
func (o *Orchestrator) Run(ctx context.Context) (report Report) {
	r := &run{id: uuid.NewString()}
	r.report.ID = r.id
	r.report.StartedAt = time.Now()

	ctx, r.span = observability.StartSessionSpan(ctx, observability.SessionSpanInfo{
		SessionID: r.id,
		Country:   o.cfg.Country,
	})

	defer func() {
		report = o.terminate(ctx, r)
	}()

	o.drive(ctx, r)
	return report
}

func (o *Orchestrator) drive(ctx context.Context, r *run) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("session_id", r.id).
				Str("state", r.state.String()).
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in session")
			o.fail(ctx, r, StatusDriverError, DriverFailure(r.state.String(), fmt.Errorf("panic: %v", p)))
		}
	}()

	state := StateInit
	for state != StateTerminate {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, r, StatusCancelled, err)
			return
		}
		r.state = state
		r.report.Trace = append(r.report.Trace, state)
		state = o.step(ctx, r, state)
	}
}

func (o *Orchestrator) step(ctx context.Context, r *run, state State) State {
	switch state {
	case StateInit:
		return o.initialise(ctx, r)
	case StateIdentityReady:
		return o.acquireIdentity(ctx, r)
	case StateNavigate:
		return o.openSearchEngine(ctx, r)
	case StateQuery:
		return o.query(ctx, r)
	case StateResultsScan:
		return o.scanResults(ctx, r)
	case StateCaptchaCheck:
		return o.checkChallenge(ctx, r)
	case StateCaptchaResolve:
		return o.resolveChallenge(ctx, r)
	case StateTargetDecision:
		return o.decideTarget(ctx, r)
	case StateInterSearchDelay:
		return o.interSearchDelay(ctx, r)
	default:
		return StateTerminate
	}
}

func (o *Orchestrator) initialise(ctx context.Context, r *run) State {
	if err := o.cfg.Validate(); err != nil {
		o.fail(ctx, r, StatusConfigError, err)
		return StateTerminate
	}
	if o.initErr != nil {
		o.fail(ctx, r, StatusConfigError, fmt.Errorf("%w: %w", config.ErrInvalid, o.initErr))
		return StateTerminate
	}

	r.session.PlannedSearchCount = o.timing.SessionSearchCount(o.cfg.SearchCount)
	r.span.SetAttributes(attribute.Int("session.planned_searches", r.session.PlannedSearchCount))

	log.Info().
		Str("session_id", r.id).
		Int("planned_searches", r.session.PlannedSearchCount).
		Str("target", o.cfg.TargetSite).
		Msg("Session starting")
	return StateIdentityReady
}

func (o *Orchestrator) acquireIdentity(ctx context.Context, r *run) State {
	fp := o.fingerprints.NewFingerprint(o.cfg.Country)
	proxy := o.fingerprints.NewProxyIdentity(o.cfg.Proxy)

	r.report.Fingerprint = fp
	r.report.ProxySessionID = proxy.SessionID
	r.report.Proxy = proxy.Redacted()
	r.span.SetAttributes(attribute.Int("proxy.session_id", proxy.SessionID))

	log.Info().
		Str("session_id", r.id).
		Str("proxy", proxy.Redacted()).
		Str("user_agent", fp.UserAgent).
		Str("webgl_renderer", fp.WebGLRenderer).
		Int("viewport_width", fp.Viewport.Width).
		Int("viewport_height", fp.Viewport.Height).
		Msg("Session identity ready")

	if o.newBrowser == nil {
		o.fail(ctx, r, StatusDriverError, DriverFailure("launch browser", errors.New("no browser factory configured")))
		return StateTerminate
	}
	b, err := o.newBrowser(ctx, Identity{
		SessionID:   r.id,
		Fingerprint: fp,
		Proxy:       proxy,
		Headless:    o.cfg.Headless,
	})
	if err != nil {
		return o.driverError(ctx, r, "launch browser", err)
	}
	r.browser = b

	r.resolver = captcha.NewResolver(o.solver, o.cfg.CaptchaPoll,
		captcha.WithProxy(strings.ToUpper(proxy.Scheme), proxy.Username()+":"+proxy.Secret+"@"+proxy.Endpoint()),
		captcha.WithSleep(o.sleep),
	)
	return StateNavigate
}

func (o *Orchestrator) openSearchEngine(ctx context.Context, r *run) State {
	if err := o.navigate(ctx, r); err != nil {
		if ctx.Err() != nil {
			o.fail(ctx, r, StatusCancelled, err)
		} else {
			o.fail(ctx, r, StatusNavigationFailed, err)
		}
		return StateTerminate
	}
	r.needNavigate = false
	o.screenshot(ctx, r, "homepage")
	return StateQuery
}

func (o *Orchestrator) query(ctx context.Context, r *run) State {
	if r.session.CompletedSearchCount >= r.session.PlannedSearchCount {
		r.session.Status = StatusCompleted
		return StateTerminate
	}

	term, query := o.terms.NextTerm()
	r.session.CurrentQuery = query
	r.report.Queries = append(r.report.Queries, query)

	if o.usage != nil {
		if err := o.usage.RecordTermUsage(ctx, term); err != nil {
			log.Warn().Err(err).Str("session_id", r.id).Str("term", term).Msg("Failed to record term usage")
		}
	}

	log.Info().
		Str("session_id", r.id).
		Int("search", r.session.CompletedSearchCount+1).
		Int("planned", r.session.PlannedSearchCount).
		Str("query", query).
		Msg("Submitting query")

	perChar := func() time.Duration {
		return o.timing.TypingInterCharDelay(o.cfg.TypingDelay)
	}
	if err := r.browser.TypeText(ctx, query, perChar); err != nil {
		return o.driverError(ctx, r, "type query", err)
	}
	if err := o.sleep(ctx, o.timing.InterActionDelay(o.cfg.ActionDelay, o.cfg.VariationFactor)); err != nil {
		o.fail(ctx, r, StatusCancelled, err)
		return StateTerminate
	}
	return StateResultsScan
}

func (o *Orchestrator) scanResults(ctx context.Context, r *run) State {
	scan, err := r.browser.ScanResults(ctx, o.cfg.TargetSite)
	if err != nil {
		return o.driverError(ctx, r, "scan results", err)
	}
	r.scan = scan

	log.Debug().
		Str("session_id", r.id).
		Int("results", len(scan.Results)).
		Bool("challenge", scan.Challenge.Present).
		Bool("target_match", scan.TargetMatchFound).
		Msg("Results scanned")

	if scan.Challenge.Present {
		return StateCaptchaCheck
	}
	o.screenshot(ctx, r, fmt.Sprintf("results_%d", r.session.CompletedSearchCount+1))
	return StateTargetDecision
}

func (o *Orchestrator) checkChallenge(ctx context.Context, r *run) State {
	ch := r.scan.Challenge
	log.Warn().
		Str("session_id", r.id).
		Str("challenge_type", ch.Type.String()).
		Str("url", ch.PageURL).
		Int("seen", len(r.session.ChallengesSeen)).
		Msg("Challenge detected")

	if len(r.session.ChallengesSeen) >= o.cfg.MaxChallengesPerSession {
		o.fail(ctx, r, StatusCaptchaBlocked, fmt.Errorf("%w: challenge limit of %d reached",
			ErrCaptchaUnresolved, o.cfg.MaxChallengesPerSession))
		return StateTerminate
	}
	return StateCaptchaResolve
}

func (o *Orchestrator) resolveChallenge(ctx context.Context, r *run) State {
	outcome := r.resolver.Resolve(ctx, r.browser, r.scan.Challenge)
	r.session.ChallengesSeen = append(r.session.ChallengesSeen, outcome)
	observability.RecordChallenge(ctx, outcome.Type.String(), outcome.Resolution.String())

	if outcome.Resolution == captcha.Resolved {
		return StateResultsScan
	}
	if err := ctx.Err(); err != nil {
		o.fail(ctx, r, StatusCancelled, err)
		return StateTerminate
	}
	o.fail(ctx, r, StatusCaptchaBlocked, fmt.Errorf("%w: %s ended %s after %d polls",
		ErrCaptchaUnresolved, outcome.Type, outcome.Resolution, outcome.AttemptsUsed))
	return StateTerminate
}

func (o *Orchestrator) decideTarget(ctx context.Context, r *run) State {
	if r.scan.TargetMatchFound && o.timing.Float64() < o.cfg.ClickProbability {
		if err := o.sleep(ctx, o.timing.InterActionDelay(o.cfg.ActionDelay, o.cfg.VariationFactor)); err != nil {
			o.fail(ctx, r, StatusCancelled, err)
			return StateTerminate
		}
		if err := r.browser.HoverAndClick(ctx, r.scan.TargetURL); err != nil {
			return o.driverError(ctx, r, "click target", err)
		}
		r.session.ClickedTarget = true
		r.report.Clicks++
		r.needNavigate = true

		log.Info().
			Str("session_id", r.id).
			Str("target_url", r.scan.TargetURL).
			Msg("Clicked target result")
		o.screenshot(ctx, r, fmt.Sprintf("target_%d", r.report.Clicks))

		if err := o.browseTarget(ctx, r); err != nil {
			o.fail(ctx, r, StatusCancelled, err)
			return StateTerminate
		}
	} else if !r.scan.TargetMatchFound && o.cfg.TargetSite != "" {
		log.Debug().Str("session_id", r.id).Str("target", o.cfg.TargetSite).Msg("Target not in results")
	}

	r.session.CompletedSearchCount++
	if r.session.CompletedSearchCount >= r.session.PlannedSearchCount {
		r.session.Status = StatusCompleted
		return StateTerminate
	}
	return StateInterSearchDelay
}

// browseTarget stays on the clicked page for a while, scrolling down it and
// sometimes back up. A failed scroll ends the visit early; only cancellation
// is returned.
func (o *Orchestrator) browseTarget(ctx context.Context, r *run) error {
	pause := func() time.Duration {
		return o.timing.InterActionDelay(o.cfg.ActionDelay, o.cfg.VariationFactor)
	}

	if err := o.sleep(ctx, pause()); err != nil {
		return err
	}

	scrolls := o.timing.Count(targetScrolls)
	up := o.timing.Float64() < scrollBackChance
	for i := range scrolls + 1 {
		if i == scrolls && !up {
			break
		}
		if err := r.browser.Scroll(ctx, i == scrolls); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Str("session_id", r.id).Msg("Scroll on target page failed")
			return nil
		}
		if err := o.sleep(ctx, pause()); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) interSearchDelay(ctx context.Context, r *run) State {
	d := o.timing.InterSearchDelay(o.cfg.SearchInterval, o.cfg.VariationFactor)
	log.Debug().Str("session_id", r.id).Dur("delay", d).Msg("Waiting before next search")

	if err := o.sleep(ctx, d); err != nil {
		o.fail(ctx, r, StatusCancelled, err)
		return StateTerminate
	}
	if r.needNavigate {
		return StateNavigate
	}
	return StateQuery
}

// driverError classifies a browser failure: a failure caused by the
// caller's cancellation is reported as Cancelled.
func (o *Orchestrator) driverError(ctx context.Context, r *run, op string, err error) State {
	if ctx.Err() != nil {
		o.fail(ctx, r, StatusCancelled, fmt.Errorf("%s: %w", op, ctx.Err()))
		return StateTerminate
	}
	o.fail(ctx, r, StatusDriverError, DriverFailure(op, err))
	return StateTerminate
}

func (o *Orchestrator) fail(ctx context.Context, r *run, status Status, err error) {
	r.session.Status = status
	r.report.Err = err

	if status == StatusDriverError {
		o.screenshot(ctx, r, "failure")
	}
}

func (o *Orchestrator) screenshot(ctx context.Context, r *run, label string) {
	if !o.cfg.Screenshots || r.browser == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	path, err := r.browser.CaptureScreenshot(ctx, label)
	if err != nil {
		log.Warn().Err(err).Str("session_id", r.id).Str("label", label).Msg("Failed to capture screenshot")
		return
	}
	r.report.Screenshots = append(r.report.Screenshots, path)
}

func (o *Orchestrator) terminate(ctx context.Context, r *run) Report {
	r.report.Trace = append(r.report.Trace, StateTerminate)

	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", r.id).Msg("Failed to close browser")
		}
	}

	r.report.EndedAt = time.Now()
	r.report.Session = r.session.clone()
	status := r.session.Status

	observability.RecordSession(ctx, observability.SessionMetrics{
		Status:   status.String(),
		Searches: r.session.CompletedSearchCount,
		Clicked:  r.session.ClickedTarget,
		Duration: r.report.Duration(),
	})

	r.span.SetAttributes(attribute.String("session.status", status.String()))
	if r.report.Err != nil && status != StatusCompleted {
		r.span.RecordError(r.report.Err)
		r.span.SetStatus(codes.Error, status.String())
	}
	r.span.End()

	event := log.Info()
	switch status {
	case StatusCompleted:
	case StatusCancelled:
		event = log.Warn().Err(r.report.Err)
	default:
		event = log.Error().Err(r.report.Err)
	}
	event.
		Str("session_id", r.id).
		Str("status", status.String()).
		Int("completed", r.session.CompletedSearchCount).
		Int("planned", r.session.PlannedSearchCount).
		Bool("clicked_target", r.session.ClickedTarget).
		Int("challenges", len(r.session.ChallengesSeen)).
		Dur("duration", r.report.Duration()).
		Msg("Session finished")

	if sessionFatal(status) && r.report.Err != nil {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("session_id", r.id)
			scope.SetTag("status", status.String())
			scope.SetTag("proxy_session_id", strconv.Itoa(r.report.ProxySessionID))
			sentry.CaptureException(r.report.Err)
		})
	}

	return r.report
}

func sessionFatal(s Status) bool {
	switch s {
	case StatusNavigationFailed, StatusCaptchaBlocked, StatusDriverError:
		return true
	}
	return false
}
