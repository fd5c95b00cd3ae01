// Package runner executes search sessions one at a time or as a pool of
// concurrent workers and aggregates their reports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/searchterms"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/Harvey-AU/searchpilot/internal/timing"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ReportStore persists finished sessions
type ReportStore interface {
	SaveReport(ctx context.Context, report session.Report) error
}

// Notifier announces the outcome of a run
type Notifier interface {
	NotifyRun(ctx context.Context, summary Summary) error
}

// Options wires a Runner. Config and NewBrowser are required.
type Options struct {
	Config     config.Config
	NewBrowser session.BrowserFactory
	Solver     captcha.Solver
	Usage      session.UsageRecorder
	Store      ReportStore
	Notifier   Notifier
	Timing     *timing.Model // paces sessions; each session still gets its own model
	Sleep      func(context.Context, time.Duration) error
}

// Runner starts sessions and collects their reports
type Runner struct {
	opts   Options
	timing *timing.Model
	sleep  func(context.Context, time.Duration) error
}

// New creates a Runner
func New(opts Options) *Runner {
	r := &Runner{opts: opts, timing: opts.Timing, sleep: opts.Sleep}
	if r.timing == nil {
		r.timing = timing.New(nil)
	}
	if r.sleep == nil {
		r.sleep = timing.Sleep
	}
	return r
}

// RunOne runs a single session
func (r *Runner) RunOne(ctx context.Context) Summary {
	summary := r.RunSequential(ctx, 1)
	summary.Mode = "single"
	return summary
}

// RunSequential runs count sessions back to back, separated by the
// inter-session delay. Sessions share one term manager so consecutive
// queries never repeat across the session boundary.
func (r *Runner) RunSequential(ctx context.Context, count int) Summary {
	summary := Summary{Mode: "sequential", Planned: count, StartedAt: time.Now()}

	terms, err := r.prepare(count)
	if err != nil {
		summary.Err = err
		summary.EndedAt = time.Now()
		return summary
	}

	for i := range count {
		if i > 0 {
			delay := r.timing.InterSessionDelay(r.opts.Config.SessionInterval, r.opts.Config.VariationFactor)
			log.Info().
				Int("next_session", i+1).
				Int("sessions", count).
				Dur("delay", delay).
				Msg("Waiting before next session")
			if err := r.sleep(ctx, delay); err != nil {
				log.Warn().Err(err).Msg("Run cancelled between sessions")
				break
			}
		}

		report := r.runSession(ctx, i, terms)
		summary.Reports = append(summary.Reports, report)

		if report.Status() == session.StatusConfigError || ctx.Err() != nil {
			break
		}
	}

	return r.finish(ctx, summary)
}

// RunParallel runs instances sessions concurrently. Each worker owns its
// browser and identity; a failing worker never cancels its siblings.
func (r *Runner) RunParallel(ctx context.Context, instances int) Summary {
	summary := Summary{Mode: "parallel", Planned: instances, StartedAt: time.Now()}

	terms, err := r.prepare(instances)
	if err != nil {
		summary.Err = err
		summary.EndedAt = time.Now()
		return summary
	}

	log.Info().Int("instances", instances).Msg("Starting parallel sessions")

	reports := make([]session.Report, instances)
	var g errgroup.Group
	for i := range instances {
		g.Go(func() error {
			reports[i] = r.runSession(ctx, i, terms)
			return nil
		})
	}
	_ = g.Wait()

	summary.Reports = reports
	return r.finish(ctx, summary)
}

func (r *Runner) prepare(count int) (*searchterms.Manager, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: session count must be at least 1, got %d", config.ErrInvalid, count)
	}
	if err := r.opts.Config.Validate(); err != nil {
		return nil, err
	}
	if r.opts.NewBrowser == nil {
		return nil, errors.New("no browser factory configured")
	}

	var termOpts []searchterms.Option
	if r.opts.Config.ExpandVariations {
		termOpts = append(termOpts, searchterms.WithVariations())
	}
	terms, err := searchterms.NewManager(r.opts.Config.SearchTerms, r.opts.Config.Suffix, rand.Uint64(), termOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	return terms, nil
}

// runSession runs one orchestrator and turns a panic escaping it into a
// DriverError report.
func (r *Runner) runSession(ctx context.Context, worker int, terms *searchterms.Manager) (report session.Report) {
	startedAt := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: worker panic: %v", session.ErrDriver, rec)
			log.Error().
				Int("worker", worker).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Session worker panicked")
			sentry.CaptureException(err)
			report = session.Report{
				Session:   session.Session{Status: session.StatusDriverError},
				StartedAt: startedAt,
				EndedAt:   time.Now(),
				Err:       err,
			}
		}
		r.save(ctx, report)
	}()

	orch := session.New(session.Options{
		Config:     r.opts.Config,
		NewBrowser: r.opts.NewBrowser,
		Terms:      terms,
		Solver:     r.opts.Solver,
		Usage:      r.opts.Usage,
		Sleep:      r.opts.Sleep,
	})
	return orch.Run(ctx)
}

func (r *Runner) save(ctx context.Context, report session.Report) {
	if r.opts.Store == nil || report.ID == "" {
		return
	}
	if err := r.opts.Store.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		log.Warn().Err(err).Str("session_id", report.ID).Msg("Failed to save session report")
	}
}

func (r *Runner) finish(ctx context.Context, summary Summary) Summary {
	summary.EndedAt = time.Now()

	log.Info().
		Str("mode", summary.Mode).
		Int("planned", summary.Planned).
		Int("sessions", len(summary.Reports)).
		Int("completed", summary.Completed()).
		Int("failed", summary.Failed()).
		Int("searches", summary.Searches()).
		Int("clicks", summary.Clicks()).
		Dur("duration", summary.Duration()).
		Msg("Run finished")

	if r.opts.Notifier != nil {
		if err := r.opts.Notifier.NotifyRun(context.WithoutCancel(ctx), summary); err != nil {
			log.Warn().Err(err).Msg("Failed to send run notification")
		}
	}
	return summary
}
