package retry

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/models"
)

// Class is the handling category of an error.
type Class int

const (
	// ClassRetryable errors are transient: network, timeouts, 5xx, 429.
	ClassRetryable Class = iota
	// ClassNonRetryable errors propagate immediately: validation, auth, malformed request.
	ClassNonRetryable
	// ClassConflict means the server version diverged from the local base version.
	ClassConflict
	// ClassResourceExhausted means the local store quota is exceeded.
	ClassResourceExhausted
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassNonRetryable:
		return "non_retryable"
	case ClassConflict:
		return "conflict"
	case ClassResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	error
	HTTPStatus() int
}

// StaleError is implemented by errors that may signal a stale base version.
type StaleError interface {
	error
	Stale() bool
}

// Classifier maps errors to classes. IsAuthError is supplied by the session
// module; nil means no error is treated as an auth failure.
type Classifier struct {
	IsAuthError func(error) bool
}

// Classify returns the class of a non-nil error.
func (c Classifier) Classify(err error) Class {
	if errors.Is(err, storage.ErrQuotaExceeded) {
		return ClassResourceExhausted
	}

	if c.IsAuthError != nil && c.IsAuthError(err) {
		return ClassNonRetryable
	}

	var stale StaleError
	if errors.As(err, &stale) && stale.Stale() {
		return ClassConflict
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrValidation),
		errors.Is(err, models.ErrInvalidPayload):
		return ClassNonRetryable
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrAllUpstreamsFailed),
		errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable
	}

	var status StatusError
	if errors.As(err, &status) {
		return classifyStatus(status.HTTPStatus())
	}

	// Ошибки соединения: отказ в подключении, сброс, DNS, таймаут транспорта
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}

	return ClassNonRetryable
}

// Classify classifies err without an auth classifier.
func Classify(err error) Class {
	return Classifier{}.Classify(err)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == ClassRetryable
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code >= 500:
		return ClassRetryable
	default:
		// 400, 401, 403, 404, 409 без признака устаревшей версии, 422
		return ClassNonRetryable
	}
}
