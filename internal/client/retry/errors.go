package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that an attempt did not finish within the call timeout.
	ErrTimeout = errors.New("operation timed out")

	// ErrCircuitOpen indicates that the breaker rejected the call without running it.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAllUpstreamsFailed is an explicit signal from a gateway that no backend could serve the call.
	ErrAllUpstreamsFailed = errors.New("all upstreams failed")

	// ErrValidation marks structural request failures that no retry can fix.
	ErrValidation = errors.New("validation failed")
)

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
