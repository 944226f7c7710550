package habblive

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// session errors
var (
	// ErrNotConfigured means no username/password were given for the shared
	// session, this is a deployment issue and not a transient fault.
	ErrNotConfigured = errors.New("habblive session credentials are not configured")
	ErrLoginFailed   = errors.New("habblive login failed")
)

// fetch errors
var (
	ErrAuthUnavailable          = errors.New("could not obtain an authenticated session")
	ErrSessionExpiredPersistent = errors.New("session kept expiring after re-login")
	ErrTimeout                  = errors.New("habblive did not respond in time")
	ErrTransport                = errors.New("could not reach habblive")
	ErrForbidden                = errors.New("habblive refused access to the profile")
	ErrProfileUnavailable       = errors.New("profile not found or not public")
)

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
