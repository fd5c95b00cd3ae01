// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// LoadTestEnv points DATABASE_URL at TEST_DATABASE_URL from .env.test,
// unless DATABASE_URL is already set (e.g. in CI).
func LoadTestEnv(t *testing.T) {
	t.Helper()

	if os.Getenv("DATABASE_URL") != "" {
		t.Log("DATABASE_URL already set in environment")
		return
	}

	envPath := findEnvTestFile()
	if envPath == "" {
		t.Log("Warning: .env.test file not found, using environment variables as-is")
		return
	}

	envMap, err := godotenv.Read(envPath)
	if err != nil {
		t.Logf("Warning: Failed to read %s: %v", envPath, err)
		return
	}

	if testDBURL, ok := envMap["TEST_DATABASE_URL"]; ok && testDBURL != "" {
		t.Setenv("DATABASE_URL", testDBURL)
		t.Log("DATABASE_URL set from TEST_DATABASE_URL in .env.test")
	}
}

// RequireDatabase loads the test environment and skips the test when no
// database is configured.
func RequireDatabase(t *testing.T) string {
	t.Helper()
	LoadTestEnv(t)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return databaseURL
}

// CompletedReport builds a finished session report with a fresh id
func CompletedReport(queries ...string) session.Report {
	started := time.Now().UTC().Truncate(time.Millisecond)
	return session.Report{
		ID: uuid.NewString(),
		Session: session.Session{
			PlannedSearchCount:   len(queries),
			CompletedSearchCount: len(queries),
			ClickedTarget:        true,
			ChallengesSeen: []captcha.Outcome{
				{Type: captcha.RecaptchaV2, Resolution: captcha.Resolved, AttemptsUsed: 4},
			},
			Status: session.StatusCompleted,
		},
		Fingerprint: fingerprint.Fingerprint{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			Country:   "US",
		},
		ProxySessionID:     606150700,
		Queries:            queries,
		Clicks:             1,
		NavigationAttempts: 1,
		StartedAt:          started,
		EndedAt:            started.Add(3 * time.Minute),
	}
}

// findEnvTestFile searches for .env.test in current and parent directories
func findEnvTestFile() string {
	dir, _ := os.Getwd()

	// Search up to 5 levels up
	for range 5 {
		envPath := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
