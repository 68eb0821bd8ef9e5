package auth

import "errors"

var (
	// ErrNoSession is returned when the tenant has no stored session.
	ErrNoSession = errors.New("no session for tenant")

	// ErrSessionExpired is returned when the stored token has expired.
	ErrSessionExpired = errors.New("session expired")
)
