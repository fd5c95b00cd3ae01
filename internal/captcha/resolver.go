package captcha

import (
	"context"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/timing"
	"github.com/rs/zerolog/log"
)

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithProxy forwards the session's proxy to the solving service so the
// token is minted for the same exit IP.
func WithProxy(proxyType, proxy string) ResolverOption {
	return func(r *Resolver) {
		r.proxyType = proxyType
		r.proxy = proxy
	}
}

// WithSleep replaces the context-aware pause between polls
func WithSleep(sleep func(context.Context, time.Duration) error) ResolverOption {
	return func(r *Resolver) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// Resolver runs the submit/poll/inject/verify loop for one session
type Resolver struct {
	solver    Solver
	poll      config.PollConfig
	proxyType string
	proxy     string
	sleep     func(context.Context, time.Duration) error
}

// NewResolver returns a Resolver using solver. A nil solver turns every
// solvable challenge into a ServiceError outcome.
func NewResolver(solver Solver, poll config.PollConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		solver: solver,
		poll:   poll,
		sleep:  timing.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.poll.MaxAttempts < 1 {
		r.poll.MaxAttempts = 1
	}
	return r
}

// Resolve attempts to clear ch on page. Every failure is reported through
// the returned Outcome.
func (r *Resolver) Resolve(ctx context.Context, page Page, ch Challenge) Outcome {
	out := Outcome{Type: ch.Type}

	if !ch.Present {
		out.Resolution = Resolved
		return out
	}
	if ch.Type != RecaptchaV2 {
		log.Info().
			Str("challenge_type", ch.Type.String()).
			Str("url", ch.PageURL).
			Msg("No solving path for challenge type")
		out.Resolution = Unsupported
		return out
	}
	if r.solver == nil || ch.SiteKey == "" {
		log.Warn().
			Bool("solver_configured", r.solver != nil).
			Bool("site_key_found", ch.SiteKey != "").
			Msg("Cannot submit challenge to solving service")
		out.Resolution = ServiceError
		return out
	}

	jobID, err := r.solver.Submit(ctx, Task{
		SiteKey:   ch.SiteKey,
		PageURL:   ch.PageURL,
		DataS:     ch.DataS,
		ProxyType: r.proxyType,
		Proxy:     r.proxy,
	})
	if err != nil {
		log.Error().Err(err).Str("url", ch.PageURL).Msg("Solving service rejected job")
		out.Resolution = ServiceError
		return out
	}

	log.Info().Str("job_id", jobID).Msg("Challenge submitted to solving service")

	if err := r.sleep(ctx, r.poll.InitialWait); err != nil {
		out.Resolution = TimedOut
		return out
	}

	var token string
	for attempt := 1; attempt <= r.poll.MaxAttempts; attempt++ {
		out.AttemptsUsed = attempt

		t, ready, err := r.solver.Poll(ctx, jobID)
		if err != nil {
			log.Error().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("Solving service returned an error")
			out.Resolution = ServiceError
			return out
		}
		if ready {
			if t == "" {
				log.Error().Str("job_id", jobID).Int("attempt", attempt).Msg("Solving service reported ready without a token")
				out.Resolution = ServiceError
				return out
			}
			token = t
			break
		}
		if attempt == r.poll.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.poll.Interval); err != nil {
			break
		}
	}

	if token == "" {
		log.Warn().
			Str("job_id", jobID).
			Int("attempts", out.AttemptsUsed).
			Msg("No solution token within poll ceiling")
		out.Resolution = TimedOut
		return out
	}

	if err := page.SubmitChallengeToken(ctx, token); err != nil {
		log.Error().Err(err).Msg("Failed to inject solution token")
		out.Resolution = Rejected
		return out
	}

	after, err := page.DetectChallenge(ctx)
	if err != nil || after.Present {
		log.Warn().Err(err).Msg("Challenge still present after token injection")
		out.Resolution = Rejected
		return out
	}

	log.Info().Int("attempts", out.AttemptsUsed).Msg("Challenge resolved")
	out.Resolution = Resolved
	return out
}
