package session

import (
	"context"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
)

// Identity is everything a browser needs to present one session's identity
type Identity struct {
	SessionID   string
	Fingerprint fingerprint.Fingerprint
	Proxy       fingerprint.ProxyIdentity
	Headless    bool
}

// Result is one organic entry on a results page
type Result struct {
	Position int
	Title    string
	URL      string
}

// ScanReport is what the browser saw on the current results page
type ScanReport struct {
	Results          []Result
	Challenge        captcha.Challenge
	TargetMatchFound bool
	TargetURL        string // href of the first matching result
}

// Browser is the action surface the orchestrator drives. Implementations
// own one browser instance and are used by one session only.
type Browser interface {
	Open(ctx context.Context, url string) error
	// TypeText types text into the search box, waiting perChar() before each
	// character, then submits the query.
	TypeText(ctx context.Context, text string, perChar func() time.Duration) error
	ScanResults(ctx context.Context, target string) (ScanReport, error)
	HoverAndClick(ctx context.Context, targetURL string) error
	// Scroll moves the current page by roughly one screen.
	Scroll(ctx context.Context, up bool) error
	// CaptureScreenshot stores a screenshot and returns where it was written.
	CaptureScreenshot(ctx context.Context, label string) (string, error)
	SubmitChallengeToken(ctx context.Context, token string) error
	DetectChallenge(ctx context.Context) (captcha.Challenge, error)
	Close() error
}

// BrowserFactory acquires a browser presenting id
type BrowserFactory func(ctx context.Context, id Identity) (Browser, error)

// UsageRecorder persists term usage. Failures are logged and never fail a
// session.
type UsageRecorder interface {
	RecordTermUsage(ctx context.Context, term string) error
}
