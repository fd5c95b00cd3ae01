// Package captcha classifies verification challenges and drives the
// solving service round trip for the ones that can be solved.
package captcha

import "context"

// Type is the classified kind of a challenge
type Type int

const (
	Unknown Type = iota
	RecaptchaV2
	RecaptchaV3
	Turnstile
	HCaptcha
)

func (t Type) String() string {
	switch t {
	case RecaptchaV2:
		return "recaptcha_v2"
	case RecaptchaV3:
		return "recaptcha_v3"
	case Turnstile:
		return "turnstile"
	case HCaptcha:
		return "hcaptcha"
	default:
		return "unknown"
	}
}

// Resolution is how an attempt to clear a challenge ended
type Resolution int

const (
	ResolutionUnset Resolution = iota
	Resolved
	Unsupported
	TimedOut
	ServiceError
	Rejected // token injected but the challenge marker is still present
)

func (r Resolution) String() string {
	switch r {
	case ResolutionUnset:
		return "unset"
	case Resolved:
		return "resolved"
	case Unsupported:
		return "unsupported"
	case TimedOut:
		return "timed_out"
	case ServiceError:
		return "service_error"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Challenge is the page-state report for a verification barrier
type Challenge struct {
	Present bool
	Type    Type
	SiteKey string
	DataS   string // Google "sorry" pages bind the widget to this token
	PageURL string
}

// Outcome is appended to the session once per challenge and never changed
type Outcome struct {
	Type         Type
	Resolution   Resolution
	AttemptsUsed int
}

// Page is what the resolver needs from the browser to finish a solve
type Page interface {
	SubmitChallengeToken(ctx context.Context, token string) error
	DetectChallenge(ctx context.Context) (Challenge, error)
}

// Task is one job submitted to a solving service
type Task struct {
	SiteKey   string
	PageURL   string
	DataS     string
	ProxyType string // HTTP, HTTPS, SOCKS5
	Proxy     string // login:password@host:port
}

// Solver is a remote solving service
type Solver interface {
	Submit(ctx context.Context, task Task) (jobID string, err error)
	// Poll reports ready=false while the job is still being worked on.
	Poll(ctx context.Context, jobID string) (token string, ready bool, err error)
	Balance(ctx context.Context) (float64, error)
}
