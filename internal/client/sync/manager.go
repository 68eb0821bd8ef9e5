// Package sync keeps a per-resource baseline and exchanges only the
// difference between the baseline and the current state with the server.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	gosync "sync"

	"github.com/iudanet/dealsync/internal/client/retry"
	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/diff"
	"github.com/iudanet/dealsync/internal/models"
)

//go:generate moq -out transport_mock.go . Transport Fetcher

// Transport sends a payload to the server and returns the version the
// server assigned.
type Transport interface {
	Push(ctx context.Context, key string, payload *models.SyncPayload) (int64, error)
}

// ServerPatch is one step of server-side history.
type ServerPatch struct {
	Patch       *diff.Patch
	BaseVersion int64
	Version     int64
}

// Remote is the server state of a resource: either full data or the
// patches made since the requested version.
type Remote struct {
	Data    json.RawMessage
	Patches []ServerPatch
	Version int64
}

// Fetcher reads a resource from the server. since is the local baseline
// version, 0 requests full data.
type Fetcher interface {
	Fetch(ctx context.Context, key string, since int64) (*Remote, error)
}

// Executor runs a network operation with retries and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, breakerName string, op func(ctx context.Context) error) error
	Classify(err error) retry.Class
}

// Options configures the manager.
type Options struct {
	Logger      *slog.Logger
	Clock       clock.Clock
	BreakerName string
}

// Result describes one Sync call.
type Result struct {
	Payload  *models.SyncPayload // nil, если отличий нет
	Snapshot *models.SyncSnapshot
}

// Skipped reports whether no network call was needed.
func (r *Result) Skipped() bool { return r.Payload == nil }

// Manager is the differential sync manager.
type Manager struct {
	store  storage.RecordStorage
	exec   Executor
	logger *slog.Logger
	clock  clock.Clock
	keyMu  map[string]*gosync.Mutex
	opts   Options
	mu     gosync.Mutex
}

// NewManager creates a manager storing baselines in the sync_snapshots collection.
func NewManager(store storage.RecordStorage, exec Executor, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.BreakerName == "" {
		opts.BreakerName = "sync"
	}
	return &Manager{
		store:  store,
		exec:   exec,
		logger: opts.Logger,
		clock:  opts.Clock,
		keyMu:  make(map[string]*gosync.Mutex),
		opts:   opts,
	}
}

// Get returns the baseline of key or ErrSnapshotNotFound.
func (m *Manager) Get(ctx context.Context, key string) (*models.SyncSnapshot, error) {
	rec, err := m.store.Get(ctx, storage.CollectionSyncSnapshots, key)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap models.SyncSnapshot
	if err := rec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// Snapshot stores a deep copy of data as the new baseline of key with
// version prior+1, or 1 when there was none.
func (m *Manager) Snapshot(ctx context.Context, key string, data any) (*models.SyncSnapshot, error) {
	unlock := m.lock(key)
	defer unlock()

	return m.advance(ctx, key, data, 0)
}

// BuildPayload returns a full payload when key has no baseline, nil when
// data equals the baseline, and a patch against the baseline otherwise.
func (m *Manager) BuildPayload(ctx context.Context, key string, data any) (*models.SyncPayload, error) {
	snap, err := m.find(ctx, key)
	if err != nil {
		return nil, err
	}

	if snap == nil {
		raw, err := canonical(data)
		if err != nil {
			return nil, err
		}
		return &models.SyncPayload{Type: models.PayloadFull, Data: raw, Version: 1}, nil
	}

	patch, err := diff.Calculate(snap.Data, data)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate patch for %s: %w", key, err)
	}
	if patch.IsEmpty() {
		return nil, nil
	}

	return &models.SyncPayload{
		Type:        models.PayloadPatch,
		Patch:       patch,
		Version:     snap.Version + 1,
		BaseVersion: snap.Version,
	}, nil
}

// Sync pushes the difference between the baseline and data through t and
// advances the baseline on success. A stale-version rejection is returned
// as *ConflictError.
func (m *Manager) Sync(ctx context.Context, key string, data any, t Transport) (*Result, error) {
	unlock := m.lock(key)
	defer unlock()

	payload, err := m.BuildPayload(ctx, key, data)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		m.logger.Debug("Resource unchanged, skipping sync", "key", key)
		return &Result{}, nil
	}

	var (
		mu            gosync.Mutex
		serverVersion int64
	)
	err = m.exec.Execute(ctx, m.opts.BreakerName, func(ctx context.Context) error {
		v, err := t.Push(ctx, key, payload)
		if err != nil {
			return err
		}
		mu.Lock()
		serverVersion = v
		mu.Unlock()
		return nil
	})
	if err != nil {
		if m.exec.Classify(err) == retry.ClassConflict {
			return nil, &ConflictError{
				Key:           key,
				LocalVersion:  payload.BaseVersion,
				RemoteVersion: remoteVersion(err),
				Err:           err,
			}
		}
		return nil, fmt.Errorf("failed to push %s: %w", key, err)
	}

	mu.Lock()
	version := serverVersion
	mu.Unlock()

	snap, err := m.advance(ctx, key, data, version)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Resource synchronized",
		"key", key,
		"type", payload.Type,
		"version", snap.Version,
	)
	return &Result{Payload: payload, Snapshot: snap}, nil
}

// ApplyServerPatch applies a server patch made on top of the local
// baseline. On a version mismatch it returns *ConflictError and leaves both
// the baseline and current untouched; the caller refetches full state.
func (m *Manager) ApplyServerPatch(ctx context.Context, key string, sp ServerPatch, current any) (json.RawMessage, error) {
	unlock := m.lock(key)
	defer unlock()

	return m.applyServerPatch(ctx, key, sp, current)
}

// Reset adopts server state as the baseline of key. The version never
// goes back: it becomes max(prior, serverVersion).
func (m *Manager) Reset(ctx context.Context, key string, data any, serverVersion int64) (*models.SyncSnapshot, error) {
	unlock := m.lock(key)
	defer unlock()

	return m.reset(ctx, key, data, serverVersion)
}

// Pull brings current up to date with the server. Patches are applied
// when the server has history from the local baseline; otherwise, and
// after a conflict, full state replaces the baseline.
func (m *Manager) Pull(ctx context.Context, key string, current any, f Fetcher) (json.RawMessage, error) {
	unlock := m.lock(key)
	defer unlock()

	snap, err := m.find(ctx, key)
	if err != nil {
		return nil, err
	}
	var since int64
	if snap != nil {
		since = snap.Version
	}

	remote, err := m.fetch(ctx, key, since, f)
	if err != nil {
		return nil, err
	}

	if len(remote.Patches) > 0 {
		out, err := m.applyChain(ctx, key, remote.Patches, current)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}

		m.logger.Info("Server history does not match baseline, refetching", "key", key, "error", err)
		if remote, err = m.fetch(ctx, key, 0, f); err != nil {
			return nil, err
		}
	}

	if len(remote.Data) == 0 {
		// Сервер подтвердил, что изменений нет
		return canonical(current)
	}

	if _, err := m.reset(ctx, key, remote.Data, remote.Version); err != nil {
		return nil, err
	}
	return canonical(remote.Data)
}

// Forget removes the baseline of key.
func (m *Manager) Forget(ctx context.Context, key string) error {
	unlock := m.lock(key)
	defer unlock()

	if err := m.store.Delete(ctx, storage.CollectionSyncSnapshots, key); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

func (m *Manager) applyChain(ctx context.Context, key string, patches []ServerPatch, current any) (json.RawMessage, error) {
	out, err := canonical(current)
	if err != nil {
		return nil, err
	}
	for _, sp := range patches {
		if out, err = m.applyServerPatch(ctx, key, sp, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Manager) applyServerPatch(ctx context.Context, key string, sp ServerPatch, current any) (json.RawMessage, error) {
	snap, err := m.find(ctx, key)
	if err != nil {
		return nil, err
	}

	var local int64
	if snap != nil {
		local = snap.Version
	}
	if snap == nil || sp.BaseVersion != snap.Version {
		return nil, &ConflictError{Key: key, LocalVersion: local, RemoteVersion: sp.BaseVersion}
	}

	updated, err := diff.Apply(current, sp.Patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply server patch to %s: %w", key, err)
	}

	// Базовая копия продвигается по серверной истории, локальные правки в нее не попадают
	baseline, err := diff.Apply(snap.Data, sp.Patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply server patch to baseline %s: %w", key, err)
	}
	if _, err := m.advance(ctx, key, baseline, sp.Version); err != nil {
		return nil, err
	}

	return canonical(updated)
}

func (m *Manager) reset(ctx context.Context, key string, data any, serverVersion int64) (*models.SyncSnapshot, error) {
	snap, err := m.find(ctx, key)
	if err != nil {
		return nil, err
	}

	version := serverVersion
	if snap != nil && snap.Version > version {
		version = snap.Version
	}
	if version < 1 {
		version = 1
	}
	return m.put(ctx, key, data, version)
}

// advance сохраняет data с версией max(prior+1, minVersion)
func (m *Manager) advance(ctx context.Context, key string, data any, minVersion int64) (*models.SyncSnapshot, error) {
	snap, err := m.find(ctx, key)
	if err != nil {
		return nil, err
	}

	version := int64(1)
	if snap != nil {
		version = snap.Version + 1
	}
	if minVersion > version {
		version = minVersion
	}
	return m.put(ctx, key, data, version)
}

func (m *Manager) put(ctx context.Context, key string, data any, version int64) (*models.SyncSnapshot, error) {
	raw, err := canonical(data)
	if err != nil {
		return nil, err
	}

	snap := &models.SyncSnapshot{
		Key:        key,
		Data:       raw,
		Version:    version,
		CapturedAt: m.clock.Now(),
	}
	err = m.store.Set(ctx, storage.CollectionSyncSnapshots, key, snap, storage.SetOptions{TenantID: tenantOf(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return snap, nil
}

func (m *Manager) find(ctx context.Context, key string) (*models.SyncSnapshot, error) {
	snap, err := m.Get(ctx, key)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil
	}
	return snap, err
}

func (m *Manager) fetch(ctx context.Context, key string, since int64, f Fetcher) (*Remote, error) {
	var (
		mu     gosync.Mutex
		remote *Remote
	)
	err := m.exec.Execute(ctx, m.opts.BreakerName, func(ctx context.Context) error {
		r, err := f.Fetch(ctx, key, since)
		if err != nil {
			return err
		}
		mu.Lock()
		remote = r
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if remote == nil {
		return &Remote{}, nil
	}
	return remote, nil
}

func (m *Manager) lock(key string) func() {
	m.mu.Lock()
	km, ok := m.keyMu[key]
	if !ok {
		km = &gosync.Mutex{}
		m.keyMu[key] = km
	}
	m.mu.Unlock()

	km.Lock()
	return km.Unlock
}

// canonical возвращает глубокую копию значения в каноничном JSON
func canonical(v any) (json.RawMessage, error) {
	norm, err := diff.Normalize(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return raw, nil
}

// tenantOf возвращает организацию из ключа вида "tenant/resource"
func tenantOf(key string) string {
	tenant, _, found := strings.Cut(key, "/")
	if !found {
		return ""
	}
	return tenant
}

type currentVersioner interface {
	CurrentVersion() int64
}

func remoteVersion(err error) int64 {
	var cv currentVersioner
	if errors.As(err, &cv) {
		return cv.CurrentVersion()
	}
	return 0
}
