package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/lib/pq"
)

// SessionRecord is one persisted session as read back for reporting
type SessionRecord struct {
	ID                string
	Status            string
	PlannedSearches   int
	CompletedSearches int
	ClickedTarget     bool
	Clicks            int
	Challenges        int
	ProxySessionID    int
	Queries           []string
	Error             string
	StartedAt         time.Time
	Duration          time.Duration
}

// SaveReport records a finished session. Saving the same session twice is
// a no-op.
func (s *Store) SaveReport(ctx context.Context, report session.Report) error {
	var errMessage sql.NullString
	if report.Err != nil {
		errMessage = sql.NullString{String: report.Err.Error(), Valid: true}
	}

	queries := report.Queries
	if queries == nil {
		queries = []string{}
	}
	screenshots := report.Screenshots
	if screenshots == nil {
		screenshots = []string{}
	}

	return s.withRetry(ctx, "save_report", func(ctx context.Context) error {
		_, err := s.client.ExecContext(ctx, `
			INSERT INTO search_sessions (
				id, status, planned_searches, completed_searches, clicked_target, clicks,
				challenges, navigation_attempts, proxy_session_id, country, user_agent,
				queries, screenshots, error_message, started_at, ended_at, duration_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (id) DO NOTHING`,
			report.ID,
			report.Status().String(),
			report.Session.PlannedSearchCount,
			report.Session.CompletedSearchCount,
			report.Session.ClickedTarget,
			report.Clicks,
			len(report.Session.ChallengesSeen),
			report.NavigationAttempts,
			report.ProxySessionID,
			report.Fingerprint.Country,
			report.Fingerprint.UserAgent,
			pq.Array(queries),
			pq.Array(screenshots),
			errMessage,
			report.StartedAt,
			report.EndedAt,
			report.Duration().Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session %s: %w", report.ID, err)
		}
		return nil
	})
}

// RecentSessions returns the latest sessions, newest first
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.client.QueryContext(ctx, `
		SELECT id, status, planned_searches, completed_searches, clicked_target, clicks,
			challenges, COALESCE(proxy_session_id, 0), queries, error_message, started_at, duration_ms
		FROM search_sessions
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var (
			rec        SessionRecord
			errMessage sql.NullString
			durationMs int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Status, &rec.PlannedSearches, &rec.CompletedSearches, &rec.ClickedTarget,
			&rec.Clicks, &rec.Challenges, &rec.ProxySessionID, pq.Array(&rec.Queries), &errMessage,
			&rec.StartedAt, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.Error = errMessage.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return records, nil
}
