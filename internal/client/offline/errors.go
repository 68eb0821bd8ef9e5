package offline

import "errors"

var (
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("runtime is not started")

	// ErrClosed is returned by operations called after Close.
	ErrClosed = errors.New("runtime is closed")

	// ErrDealNotFound indicates that the deal is neither stored locally nor
	// known to the server.
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealRejected indicates that the server refused a change made while
	// online; the local copy was discarded.
	ErrDealRejected = errors.New("deal change rejected by server")
)

var (
	// ErrOffline is returned when a network operation is requested while
	// the runtime is offline. Local changes are kept and synced on Reconnect.
	ErrOffline = errors.New("runtime is offline")

	// ErrNoRemote is returned when the runtime was built without a server API.
	ErrNoRemote = errors.New("remote api is not configured")
)
