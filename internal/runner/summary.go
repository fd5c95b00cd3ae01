package runner

import (
	"time"

	"github.com/Harvey-AU/searchpilot/internal/session"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// Summary aggregates the reports of one run
type Summary struct {
	Mode      string // "single", "sequential" or "parallel"
	Planned   int    // sessions the run was asked for
	Reports   []session.Report
	StartedAt time.Time
	EndedAt   time.Time
	Err       error // configuration failure that stopped the run before any session
}

// Completed counts sessions that finished every planned search
func (s Summary) Completed() int {
	n := 0
	for _, r := range s.Reports {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// Failed counts sessions that did not complete
func (s Summary) Failed() int {
	return len(s.Reports) - s.Completed()
}

// Total is the number of sessions the run accounts for
func (s Summary) Total() int {
	return max(s.Planned, len(s.Reports))
}

// Skipped counts planned sessions that never started
func (s Summary) Skipped() int {
	if n := s.Planned - len(s.Reports); n > 0 {
		return n
	}
	return 0
}

// Searches totals the searches performed across sessions
func (s Summary) Searches() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Session.CompletedSearchCount
	}
	return n
}

// Clicks totals target clicks across sessions
func (s Summary) Clicks() int {
	n := 0
	for _, r := range s.Reports {
		n += r.Clicks
	}
	return n
}

// StatusCounts groups sessions by final status
func (s Summary) StatusCounts() map[session.Status]int {
	counts := make(map[session.Status]int)
	for _, r := range s.Reports {
		counts[r.Status()]++
	}
	return counts
}

// Duration is the wall time of the whole run
func (s Summary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// ExitCode maps the run outcome onto the process exit status: 0 when every
// planned session completed, 2 on a configuration failure, 1 otherwise.
func (s Summary) ExitCode() int {
	if s.Err != nil {
		return ExitConfigError
	}
	for _, r := range s.Reports {
		if r.Status() == session.StatusConfigError {
			return ExitConfigError
		}
	}
	if len(s.Reports) == 0 || s.Failed() > 0 || s.Skipped() > 0 {
		return ExitFailure
	}
	return ExitOK
}
