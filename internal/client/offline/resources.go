package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/dealsync/internal/client/cache"
	"github.com/iudanet/dealsync/internal/client/storage"
	dsync "github.com/iudanet/dealsync/internal/client/sync"
	"github.com/iudanet/dealsync/internal/client/telemetry"
)

// Sync stores data as the local state of the resource key ("tenant/name")
// and pushes the difference from the last synced state through t, or
// through the server API when t is nil. While offline the data is kept and
// ErrOffline is returned; Reconnect pushes it later. A stale-version
// rejection replaces the local state with the server's and returns
// *sync.ConflictError.
func (r *Runtime) Sync(ctx context.Context, key string, data any, t dsync.Transport) (*dsync.Result, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if _, _, err := SplitResourceKey(key); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource %s: %w", key, err)
	}
	if err := r.putResource(ctx, key, raw); err != nil {
		return nil, err
	}

	if t == nil {
		if r.remote == nil {
			return nil, ErrNoRemote
		}
		t = r.resources
	}
	if !r.Online() {
		return nil, ErrOffline
	}

	return r.syncResource(ctx, key, raw, t)
}

// Resource returns the local state of a resource.
func (r *Runtime) Resource(ctx context.Context, key string) (json.RawMessage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	ck := resourceCacheKey(key)
	if v, ok := r.cache.Get(ck); ok {
		if raw, ok := v.(json.RawMessage); ok {
			return raw, nil
		}
	}

	rec, err := r.store.Get(ctx, storage.CollectionPipeline, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", key, err)
	}
	r.cache.Set(ck, rec.Value, 0)
	return rec.Value, nil
}

// Pull brings the local state of a resource up to date with the server.
func (r *Runtime) Pull(ctx context.Context, key string) (json.RawMessage, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.remote == nil {
		return nil, ErrNoRemote
	}
	if !r.Online() {
		return nil, ErrOffline
	}

	var current json.RawMessage
	rec, err := r.store.Get(ctx, storage.CollectionPipeline, key)
	switch {
	case err == nil:
		current = rec.Value
	case !errors.Is(err, storage.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to read resource %s: %w", key, err)
	}

	out, err := r.sync.Pull(ctx, key, current, r.resources)
	if err != nil {
		return nil, err
	}
	if err := r.putResource(ctx, key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runtime) syncResource(ctx context.Context, key string, data json.RawMessage, t dsync.Transport) (*dsync.Result, error) {
	res, err := r.sync.Sync(ctx, key, data, t)
	if err == nil {
		return res, nil
	}

	var conflict *dsync.ConflictError
	if !errors.As(err, &conflict) {
		return nil, err
	}

	tenantID, _, _ := SplitResourceKey(key)
	r.report(ctx, telemetry.KindConflict, tenantID, "resource changed on server, local state replaced", map[string]any{
		"key":            key,
		"local_version":  conflict.LocalVersion,
		"server_version": conflict.RemoteVersion,
	})

	// Сервер прав: принимаем его состояние целиком
	if r.remote == nil {
		return nil, err
	}
	if err := r.sync.Forget(ctx, key); err != nil {
		return nil, errors.Join(conflict, err)
	}
	fresh, pullErr := r.sync.Pull(ctx, key, nil, r.resources)
	if pullErr != nil {
		return nil, errors.Join(conflict, pullErr)
	}
	if putErr := r.putResource(ctx, key, fresh); putErr != nil {
		return nil, errors.Join(conflict, putErr)
	}
	return nil, conflict
}

// syncResources отправляет все локально измененные ресурсы
func (r *Runtime) syncResources(ctx context.Context, res *ReconnectResult) error {
	recs, err := r.store.GetAll(ctx, storage.CollectionPipeline, "")
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}

	var errs []error
	for _, rec := range recs {
		out, err := r.syncResource(ctx, rec.ID, rec.Value, r.resources)
		switch {
		case errors.Is(err, dsync.ErrConflict):
			res.Conflicts++
		case err != nil:
			errs = append(errs, fmt.Errorf("resource %s: %w", rec.ID, err))
		case !out.Skipped():
			res.Resources++
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) putResource(ctx context.Context, key string, data json.RawMessage) error {
	err := r.store.Set(ctx, storage.CollectionPipeline, key, data, storage.SetOptions{TenantID: tenantOf(key)})
	if err != nil {
		return fmt.Errorf("failed to save resource %s: %w", key, err)
	}
	r.CacheInvalidate(ctx, resourceCacheKey(key))
	return nil
}

func resourceCacheKey(key string) string {
	tenantID, name, _ := SplitResourceKey(key)
	return cache.Key(tenantID, string(storage.CollectionPipeline), name)
}
