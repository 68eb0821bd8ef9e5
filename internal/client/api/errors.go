package api

import (
	"fmt"
	"net/http"

	"github.com/iudanet/dealsync/pkg/api"
)

// Error is a non-2xx answer from the server.
type Error struct {
	Code          string
	Message       string
	StatusCode    int
	ServerVersion int64
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// HTTPStatus returns the response status code.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// Stale reports whether the server rejected the request because the base
// version is older than the stored one.
func (e *Error) Stale() bool {
	return e.StatusCode == http.StatusConflict && e.Code == api.CodeStaleVersion
}

// Unauthorized reports whether the token was missing, invalid or expired.
func (e *Error) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// CurrentVersion returns the server version reported with a stale-version
// rejection.
func (e *Error) CurrentVersion() int64 { return e.ServerVersion }
