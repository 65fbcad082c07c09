package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinel errors, one per failed outcome.
var (
	// ErrNoURL is returned when the collector URL is missing.
	ErrNoURL = errors.New("dispatch: collector URL required")

	// ErrTimeout marks a request that exceeded its deadline.
	ErrTimeout = errors.New("dispatch: timeout")

	// ErrRejected marks a response with a non-success status.
	ErrRejected = errors.New("dispatch: rejected by collector")

	// ErrTransport marks a connection-level failure.
	ErrTransport = errors.New("dispatch: transport error")

	// ErrUnexpected marks any other failure.
	ErrUnexpected = errors.New("dispatch: unexpected error")
)

// RejectedError is a collector response outside 200/201.
type RejectedError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("dispatch: collector returned %d: %s", e.StatusCode, e.Body)
}

// Is matches ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// IsServerError returns true for HTTP 5xx.
func (e *RejectedError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// classify maps a failed request to its outcome and tags the error with the
// matching sentinel.
func classify(err error) (Outcome, error) {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return Timeout, fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return UnexpectedError, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	var ue *url.Error
	var oe *net.OpError
	if errors.As(err, &ue) || errors.As(err, &oe) {
		return TransportError, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return UnexpectedError, fmt.Errorf("%w: %w", ErrUnexpected, err)
}

// IsTimeout reports whether err is a dispatch timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRejected reports whether err carries a non-success collector status.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
