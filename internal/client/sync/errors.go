package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict signals that the server and the local baseline diverged.
	ErrConflict = errors.New("sync conflict")

	// ErrSnapshotNotFound is returned when a key has no baseline yet.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// ConflictError describes a version mismatch for one resource.
type ConflictError struct {
	Err           error
	Key           string
	LocalVersion  int64
	RemoteVersion int64
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("sync conflict on %s: local version %d, server version %d", e.Key, e.LocalVersion, e.RemoteVersion)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrConflict) true for every ConflictError.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }
