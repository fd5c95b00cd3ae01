package runner_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/runner"
	"github.com/Harvey-AU/searchpilot/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionGap = 7 * time.Hour

// fakeBrowser always finds the target on the results page
type fakeBrowser struct{}

func (fakeBrowser) Open(context.Context, string) error { return nil }
func (fakeBrowser) TypeText(_ context.Context, text string, perChar func() time.Duration) error {
	for range text {
		perChar()
	}
	return nil
}
func (fakeBrowser) ScanResults(context.Context, string) (session.ScanReport, error) {
	return session.ScanReport{
		Results:          []session.Result{{Position: 1, Title: "Example", URL: "https://example.com/"}},
		TargetMatchFound: true,
		TargetURL:        "https://example.com/",
	}, nil
}
func (fakeBrowser) HoverAndClick(context.Context, string) error { return nil }
func (fakeBrowser) Scroll(context.Context, bool) error { return nil }
func (fakeBrowser) CaptureScreenshot(context.Context, string) (string, error) {
	return "", nil
}
func (fakeBrowser) SubmitChallengeToken(context.Context, string) error { return nil }
func (fakeBrowser) DetectChallenge(context.Context) (captcha.Challenge, error) {
	return captcha.Challenge{}, nil
}
func (fakeBrowser) Close() error { return nil }

// countingFactory hands out fake browsers, failing the launch numbered failOn
type countingFactory struct {
	launches atomic.Int32
	failOn   int32
}

func (f *countingFactory) newBrowser(context.Context, session.Identity) (session.Browser, error) {
	n := f.launches.Add(1)
	if n == f.failOn {
		return nil, errors.New("chrome failed to start")
	}
	return fakeBrowser{}, nil
}

type sleepLog struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == d {
			n++
		}
	}
	return n
}

type memoryStore struct {
	mu      sync.Mutex
	reports []session.Report
}

func (s *memoryStore) SaveReport(_ context.Context, r session.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

type recordingNotifier struct {
	summaries []runner.Summary
}

func (n *recordingNotifier) NotifyRun(_ context.Context, s runner.Summary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.SearchTerms = []string{"plumber", "electrician", "roofer"}
	cfg.Proxy.CustomerID = "acme"
	cfg.Proxy.Secret = "s3cret"
	cfg.SearchCount = config.IntRange{Min: 2, Max: 2}
	cfg.ClickProbability = 1
	cfg.TargetSite = "example.com"
	cfg.Screenshots = false
	cfg.VariationFactor = 0
	cfg.SessionInterval = config.DurationRange{Min: sessionGap, Max: sessionGap}
	return cfg
}

func TestRunSequentialSeparatesSessions(t *testing.T) {
	factory := &countingFactory{}
	sleeps := &sleepLog{}
	store := &memoryStore{}
	notifier := &recordingNotifier{}

	r := runner.New(runner.Options{
		Config:     testConfig(),
		NewBrowser: factory.newBrowser,
		Store:      store,
		Notifier:   notifier,
		Sleep:      sleeps.sleep,
	})

	summary := r.RunSequential(context.Background(), 3)

	require.NoError(t, summary.Err)
	assert.Equal(t, "sequential", summary.Mode)
	require.Len(t, summary.Reports, 3)
	assert.Equal(t, 3, summary.Completed())
	assert.Equal(t, 6, summary.Searches())
	assert.Equal(t, 6, summary.Clicks())
	assert.Equal(t, runner.ExitOK, summary.ExitCode())

	assert.Equal(t, 2, sleeps.count(sessionGap), "one gap between each pair of sessions")
	assert.EqualValues(t, 3, factory.launches.Load())
	assert.Len(t, store.reports, 3)
	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, 3, notifier.summaries[0].Completed())
}

func TestRunOne(t *testing.T) {
	factory := &countingFactory{}
	r := runner.New(runner.Options{
		Config:     testConfig(),
		NewBrowser: factory.newBrowser,
		Sleep:      (&sleepLog{}).sleep,
	})

	summary := r.RunOne(context.Background())

	assert.Equal(t, "single", summary.Mode)
	require.Len(t, summary.Reports, 1)
	assert.True(t, summary.Reports[0].Succeeded())
	assert.Equal(t, runner.ExitOK, summary.ExitCode())
}

func TestRunParallelIsolatesFailures(t *testing.T) {
	factory := &countingFactory{failOn: 2}
	store := &memoryStore{}

	r := runner.New(runner.Options{
		Config:     testConfig(),
		NewBrowser: factory.newBrowser,
		Store:      store,
		Sleep:      (&sleepLog{}).sleep,
	})

	summary := r.RunParallel(context.Background(), 4)

	require.NoError(t, summary.Err)
	assert.Equal(t, "parallel", summary.Mode)
	require.Len(t, summary.Reports, 4)
	assert.Equal(t, 3, summary.Completed())
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 1, summary.StatusCounts()[session.StatusDriverError])
	assert.Equal(t, runner.ExitFailure, summary.ExitCode())
	assert.Len(t, store.reports, 4)

	ids := make(map[string]bool)
	for _, rep := range summary.Reports {
		ids[rep.ID] = true
	}
	assert.Len(t, ids, 4, "every worker runs its own session")
}

func TestRunParallelIdentitiesAreIndependent(t *testing.T) {
	var mu sync.Mutex
	var identities []session.Identity
	factory := func(_ context.Context, id session.Identity) (session.Browser, error) {
		mu.Lock()
		identities = append(identities, id)
		mu.Unlock()
		return fakeBrowser{}, nil
	}

	r := runner.New(runner.Options{Config: testConfig(), NewBrowser: factory, Sleep: (&sleepLog{}).sleep})
	summary := r.RunParallel(context.Background(), 3)

	require.Len(t, summary.Reports, 3)
	require.Len(t, identities, 3)
	sessionIDs := make(map[string]bool)
	for _, id := range identities {
		sessionIDs[id.SessionID] = true
		assert.NotEmpty(t, id.Proxy.Username())
	}
	assert.Len(t, sessionIDs, 3)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SearchTerms = nil
	factory := &countingFactory{}

	r := runner.New(runner.Options{Config: cfg, NewBrowser: factory.newBrowser})

	for name, run := range map[string]func() runner.Summary{
		"sequential": func() runner.Summary { return r.RunSequential(context.Background(), 2) },
		"parallel":   func() runner.Summary { return r.RunParallel(context.Background(), 2) },
	} {
		t.Run(name, func(t *testing.T) {
			summary := run()
			assert.ErrorIs(t, summary.Err, config.ErrInvalid)
			assert.Empty(t, summary.Reports)
			assert.Equal(t, runner.ExitConfigError, summary.ExitCode())
		})
	}
	assert.Zero(t, factory.launches.Load(), "no browser is launched for a bad configuration")
}

func TestRunRejectsZeroSessions(t *testing.T) {
	r := runner.New(runner.Options{Config: testConfig(), NewBrowser: (&countingFactory{}).newBrowser})

	summary := r.RunParallel(context.Background(), 0)

	assert.ErrorIs(t, summary.Err, config.ErrInvalid)
	assert.Equal(t, runner.ExitConfigError, summary.ExitCode())
}

func TestRunSequentialStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	factory := &countingFactory{}

	r := runner.New(runner.Options{Config: testConfig(), NewBrowser: factory.newBrowser, Sleep: (&sleepLog{}).sleep})
	summary := r.RunSequential(ctx, 3)

	require.Len(t, summary.Reports, 1)
	assert.Equal(t, session.StatusCancelled, summary.Reports[0].Status())
	assert.Equal(t, runner.ExitFailure, summary.ExitCode())
}

func TestRunSequentialCancelledBetweenSessionsFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &countingFactory{}
	sleeps := &sleepLog{}

	sleep := func(ctx context.Context, d time.Duration) error {
		if d == sessionGap {
			cancel()
		}
		return sleeps.sleep(ctx, d)
	}

	r := runner.New(runner.Options{Config: testConfig(), NewBrowser: factory.newBrowser, Sleep: sleep})
	summary := r.RunSequential(ctx, 3)

	require.Len(t, summary.Reports, 1)
	assert.Equal(t, session.StatusCompleted, summary.Reports[0].Status())
	assert.Equal(t, 3, summary.Planned)
	assert.Equal(t, 2, summary.Skipped())
	assert.Equal(t, 3, summary.Total())
	assert.Equal(t, runner.ExitFailure, summary.ExitCode())
	assert.Equal(t, int32(1), factory.launches.Load())
}

func TestSummaryExitCode(t *testing.T) {
	completed := session.Report{Session: session.Session{Status: session.StatusCompleted}}
	blocked := session.Report{Session: session.Session{Status: session.StatusCaptchaBlocked}}
	badConfig := session.Report{Session: session.Session{Status: session.StatusConfigError}}

	tests := []struct {
		name    string
		summary runner.Summary
		want    int
	}{
		{"all completed", runner.Summary{Reports: []session.Report{completed, completed}}, runner.ExitOK},
		{"one failure", runner.Summary{Reports: []session.Report{completed, blocked}}, runner.ExitFailure},
		{"config error report", runner.Summary{Reports: []session.Report{badConfig}}, runner.ExitConfigError},
		{"config error before start", runner.Summary{Err: config.ErrInvalid}, runner.ExitConfigError},
		{"nothing ran", runner.Summary{}, runner.ExitFailure},
		{"all planned completed", runner.Summary{Planned: 2, Reports: []session.Report{completed, completed}}, runner.ExitOK},
		{"stopped before all planned", runner.Summary{Planned: 3, Reports: []session.Report{completed}}, runner.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.ExitCode())
		})
	}
}
