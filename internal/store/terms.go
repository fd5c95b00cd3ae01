package store

import (
	"context"
	"fmt"

	"github.com/Harvey-AU/searchpilot/internal/searchterms"
)

// RecordTermUsage increments the usage count of term
func (s *Store) RecordTermUsage(ctx context.Context, term string) error {
	return s.withRetry(ctx, "record_term_usage", func(ctx context.Context) error {
		_, err := s.client.ExecContext(ctx, `
			INSERT INTO term_usage (term, uses, last_used_at)
			VALUES ($1, 1, NOW())
			ON CONFLICT (term) DO UPDATE
			SET uses = term_usage.uses + 1, last_used_at = NOW()`, term)
		if err != nil {
			return fmt.Errorf("failed to record usage of %q: %w", term, err)
		}
		return nil
	})
}

// TermStats returns the most used terms, most used first
func (s *Store) TermStats(ctx context.Context, limit int) ([]searchterms.TermUsage, error) {
	rows, err := s.client.QueryContext(ctx, `
		SELECT term, uses
		FROM term_usage
		ORDER BY uses DESC, term ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query term usage: %w", err)
	}
	defer rows.Close()

	var stats []searchterms.TermUsage
	for rows.Next() {
		var u searchterms.TermUsage
		if err := rows.Scan(&u.Term, &u.Count); err != nil {
			return nil, fmt.Errorf("failed to scan term usage: %w", err)
		}
		stats = append(stats, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read term usage: %w", err)
	}
	return stats, nil
}
