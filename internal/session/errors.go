package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDriver marks an unexpected browser failure
	ErrDriver = errors.New("browser driver failure")
	// ErrCaptchaUnresolved marks a session stopped by a challenge
	ErrCaptchaUnresolved = errors.New("challenge not resolved")
)

// NavigationError is a transient failure to load a page. Proxy credential
// rejections are reported with ProxyAuth set and retried the same way.
type NavigationError struct {
	URL       string
	ProxyAuth bool
	Err       error
}

func (e *NavigationError) Error() string {
	if e.ProxyAuth {
		return fmt.Sprintf("proxy authentication rejected opening %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// DriverFailure wraps err so that errors.Is(err, ErrDriver) holds
func DriverFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDriver, err)
}
