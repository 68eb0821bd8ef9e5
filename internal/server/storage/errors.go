package storage

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	// ErrDealNotFound indicates that the deal does not exist in the tenant
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealExists indicates that a deal with this id was already created
	ErrDealExists = errors.New("deal already exists")

	// ErrResourceNotFound indicates that the resource was never pushed
	ErrResourceNotFound = errors.New("resource not found")

	// ErrStaleVersion indicates that the caller's base version is not the stored one
	ErrStaleVersion = errors.New("stale version")
)

// StaleVersionError carries the stored version of a record the caller
// tried to change from an older base.
type StaleVersionError struct {
	Current int64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("%s: stored version is %d", ErrStaleVersion, e.Current)
}

func (e *StaleVersionError) Is(target error) bool {
	return target == ErrStaleVersion
}
