package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/observability"
	"github.com/rs/zerolog/log"
)

// navigate opens the search engine, retrying with exponential backoff.
// Exactly cfg.Navigation.MaxAttempts calls to Open are made before giving up.
func (o *Orchestrator) navigate(ctx context.Context, r *run) error {
	retryConfig := o.cfg.Navigation
	target := o.cfg.SearchEngineURL

	var lastErr error
	backoff := retryConfig.InitialInterval
	startTime := time.Now()

	for attempt := 1; attempt <= retryConfig.MaxAttempts; attempt++ {
		r.report.NavigationAttempts++

		err := r.browser.Open(ctx, target)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("session_id", r.id).
					Int("attempts", attempt).
					Dur("elapsed", time.Since(startTime)).
					Msg("Search engine opened after retries")
			}
			return nil
		}

		var navErr *NavigationError
		if !errors.As(err, &navErr) {
			navErr = &NavigationError{URL: target, Err: err}
		}
		lastErr = navErr
		observability.RecordNavigationFailure(ctx, navErr.ProxyAuth)

		if ctx.Err() != nil {
			return fmt.Errorf("navigation retry cancelled: %w", ctx.Err())
		}

		// Don't retry if we've exhausted attempts
		if attempt >= retryConfig.MaxAttempts {
			break
		}

		log.Warn().
			Err(navErr).
			Str("session_id", r.id).
			Int("attempt", attempt).
			Int("max_attempts", retryConfig.MaxAttempts).
			Bool("proxy_auth", navErr.ProxyAuth).
			Dur("retry_in", backoff).
			Msg("Navigation failed, retrying...")

		if err := o.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("navigation retry cancelled: %w", err)
		}

		backoff = o.nextBackoff(backoff, retryConfig)
	}

	log.Error().
		Err(lastErr).
		Str("session_id", r.id).
		Int("max_attempts", retryConfig.MaxAttempts).
		Msg("Navigation failed after all retry attempts")

	return fmt.Errorf("failed to open %s after %d attempts: %w", target, retryConfig.MaxAttempts, lastErr)
}

// nextBackoff grows backoff by the multiplier, caps it and applies ±10%
// jitter drawn from the session's own random source.
func (o *Orchestrator) nextBackoff(backoff time.Duration, cfg config.RetryConfig) time.Duration {
	backoff = time.Duration(float64(backoff) * cfg.Multiplier)
	if cfg.MaxInterval > 0 && backoff > cfg.MaxInterval {
		backoff = cfg.MaxInterval
	}
	if cfg.Jitter {
		jitter := time.Duration(float64(backoff) * 0.1 * (2.0*o.timing.Float64() - 1.0))
		backoff += jitter
	}
	return max(backoff, 0)
}
