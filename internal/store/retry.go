package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	writeAttempts     = 3
	writeInitialDelay = 100 * time.Millisecond
)

// withRetry runs a write, retrying connection-level failures. Data errors
// are returned immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := writeInitialDelay

	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isRetryableError(err) || attempt == writeAttempts {
			return err
		}

		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Database write failed, retrying")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// isRetryableError reports whether err is an infrastructure failure worth
// retrying rather than bad data.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableClass(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableClass(string(pqErr.Code))
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"connection refused", "connection reset", "broken pipe", "too many clients"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// retryableClass checks the SQLSTATE class: connection exceptions,
// insufficient resources, operator intervention and system errors.
func retryableClass(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57", "58":
		return true
	}
	return false
}
