package session

import (
	"slices"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/captcha"
	"github.com/Harvey-AU/searchpilot/internal/fingerprint"
)

// State is a node of the session state machine
type State int

const (
	StateInit State = iota
	StateIdentityReady
	StateNavigate
	StateQuery
	StateResultsScan
	StateCaptchaCheck
	StateCaptchaResolve
	StateTargetDecision
	StateInterSearchDelay
	StateTerminate
)

var stateNames = map[State]string{
	StateInit:             "INIT",
	StateIdentityReady:    "IDENTITY_READY",
	StateNavigate:         "NAVIGATE",
	StateQuery:            "QUERY",
	StateResultsScan:      "RESULTS_SCAN",
	StateCaptchaCheck:     "CAPTCHA_CHECK",
	StateCaptchaResolve:   "CAPTCHA_RESOLVE",
	StateTargetDecision:   "TARGET_DECISION",
	StateInterSearchDelay: "INTER_SEARCH_DELAY",
	StateTerminate:        "TERMINATE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Status is the final (or, while running, current) outcome of a session
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusNavigationFailed
	StatusCaptchaBlocked
	StatusDriverError
	StatusConfigError
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusNavigationFailed:
		return "navigation_failed"
	case StatusCaptchaBlocked:
		return "captcha_blocked"
	case StatusDriverError:
		return "driver_error"
	case StatusConfigError:
		return "config_error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Session is the mutable run state. Only the orchestrator running it
// writes to it; ChallengesSeen is append-only.
type Session struct {
	PlannedSearchCount   int
	CompletedSearchCount int
	CurrentQuery         string
	ClickedTarget        bool
	ChallengesSeen       []captcha.Outcome
	Status               Status
}

func (s Session) clone() Session {
	s.ChallengesSeen = slices.Clone(s.ChallengesSeen)
	return s
}

// Report is handed to the caller when a session ends
type Report struct {
	ID                 string
	Session            Session
	Fingerprint        fingerprint.Fingerprint
	ProxySessionID     int
	Proxy              string // redacted identity string
	Queries            []string
	Clicks             int
	NavigationAttempts int
	Screenshots        []string
	Trace              []State
	StartedAt          time.Time
	EndedAt            time.Time
	Err                error
}

// Status is shorthand for r.Session.Status
func (r Report) Status() Status {
	return r.Session.Status
}

// Succeeded reports whether every planned search completed
func (r Report) Succeeded() bool {
	return r.Session.Status == StatusCompleted
}

// Duration is the wall time of the session
func (r Report) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
