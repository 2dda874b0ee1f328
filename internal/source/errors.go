// Package source implements the three marketplace channel clients.
// Each client owns its channel's pagination and rate-limit contract
// and nothing else; merging their disagreeing views is the reconcile
// package's job.
package source

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrPermanent marks channel errors that will not succeed on retry
	// (not found, auth rejected). Recorded and skipped.
	ErrPermanent = errors.New("permanent channel error")

	// ErrSessionExpired means the supplied authenticated session was
	// rejected by the server. It is escalated rather than retried:
	// every subsequent attempt with the same session fails identically.
	ErrSessionExpired = errors.New("session expired")

	// ErrDegraded means the fetch succeeded but the payload could only
	// be partially parsed. Callers fall back to existing data.
	ErrDegraded = errors.New("degraded fetch")
)

// HTTPError carries a non-2xx status code with its retry class.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Unwrap maps permanent statuses onto ErrPermanent so callers can use
// errors.Is without caring about the exact code.
func (e *HTTPError) Unwrap() error {
	if !retryableStatus(e.Status) {
		return ErrPermanent
	}
	return nil
}

// classifyStatus converts an HTTP status outside 200/204 to an error.
func classifyStatus(status int) error {
	if status == 200 || status == 204 {
		return nil
	}
	return &HTTPError{Status: status}
}

// retryableStatus reports whether a status is worth retrying:
// throttling and server-side failures are, client errors are not.
func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// IsRetryable classifies an error as transient. Timeouts and network
// errors are retryable; ErrPermanent and session expiry are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrSessionExpired) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus(httpErr.Status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}
