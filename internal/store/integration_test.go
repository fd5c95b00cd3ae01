//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/store"
	"github.com/Harvey-AU/searchpilot/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	testutil.RequireDatabase(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s, err := store.InitFromEnv(ctx)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := testutil.CompletedReport("plumber", "roofer")
	require.NoError(t, s.SaveReport(ctx, report))
	// Saving twice is a no-op
	require.NoError(t, s.SaveReport(ctx, report))

	recent, err := s.RecentSessions(ctx, 50)
	require.NoError(t, err)

	var found *store.SessionRecord
	for i := range recent {
		if recent[i].ID == report.ID {
			found = &recent[i]
		}
	}
	require.NotNil(t, found, "saved session should be listed")
	assert.Equal(t, "completed", found.Status)
	assert.Equal(t, []string{"plumber", "roofer"}, found.Queries)
	assert.Equal(t, 1, found.Challenges)
	assert.Equal(t, 3*time.Minute, found.Duration)
}

func TestRecordTermUsageIncrements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	term := "integration " + uuid.NewString()
	for range 3 {
		require.NoError(t, s.RecordTermUsage(ctx, term))
	}

	stats, err := s.TermStats(ctx, 1000)
	require.NoError(t, err)
	for _, u := range stats {
		if u.Term == term {
			assert.Equal(t, 3, u.Count)
			return
		}
	}
	t.Fatalf("term %q missing from usage stats", term)
}
