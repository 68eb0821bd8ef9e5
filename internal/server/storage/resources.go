package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Resource is the server state of a synchronized pipeline resource.
type Resource struct {
	UpdatedAt time.Time
	TenantID  string
	Key       string
	Data      json.RawMessage
	Version   int64
}

// ResourcePatch is one step of resource history: the patch that turned
// BaseVersion into Version.
type ResourcePatch struct {
	Patch       json.RawMessage
	BaseVersion int64
	Version     int64
}

// ResourceUpdate is what a PutResource callback decides to store.
type ResourceUpdate struct {
	Data  json.RawMessage
	Patch json.RawMessage // nil - история прерывается
}

// ResourceStorage defines interface for resource persistence
type ResourceStorage interface {
	// GetResource retrieves current state of a resource
	// Returns ErrResourceNotFound if resource doesn't exist
	GetResource(ctx context.Context, tenantID, key string) (*Resource, error)

	// PutResource calls fn with the current state (nil for a new resource)
	// and stores its result as the next version in one transaction
	PutResource(ctx context.Context, tenantID, key string, fn func(current *Resource) (*ResourceUpdate, error)) (*Resource, error)

	// PatchesSince returns history after version since in order. ok is
	// false when the history does not reach back to since.
	PatchesSince(ctx context.Context, tenantID, key string, since int64) (patches []ResourcePatch, ok bool, err error)
}
