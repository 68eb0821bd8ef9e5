package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no session data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrRecordNotFound indicates that record is absent or expired
	ErrRecordNotFound = errors.New("record not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrStoreUnavailable indicates that the database could not be opened
	// (file locked by another process, unreadable path, broken file)
	ErrStoreUnavailable = errors.New("storage is unavailable")

	// ErrQuotaExceeded indicates that a write does not fit into the storage quota
	// even after expired records were pruned
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnknownCollection indicates that collection name is not registered
	ErrUnknownCollection = errors.New("unknown collection")
)
