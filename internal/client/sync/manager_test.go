package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/retry"
	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/client/storage/boltdb"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/diff"
	"github.com/iudanet/dealsync/internal/models"
)

const testKey = "acme/pipeline-q3"

// createTestManager создает менеджер поверх временного хранилища
func createTestManager(t *testing.T) (*Manager, *boltdb.Storage) {
	t.Helper()

	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	store := boltdb.New(filepath.Join(t.TempDir(), "sync.db"), boltdb.Options{Clock: clk})
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	exec := retry.NewExecutor(
		retry.Policy{MaxAttempts: 1},
		retry.BreakerConfig{FailureThreshold: 100, ResetTimeout: time.Hour},
		retry.Options{Sleep: func(context.Context, time.Duration) error { return nil }},
	)

	return NewManager(store, exec, Options{Clock: clk}), store
}

func pipelineV1() map[string]any {
	return map[string]any{
		"name": "Q3",
		"deals": []any{
			map[string]any{"id": "d1", "stage": "lead", "amount": 100},
			map[string]any{"id": "d2", "stage": "won", "amount": 50},
		},
	}
}

func pipelineV2() map[string]any {
	return map[string]any{
		"name": "Q3 pipeline",
		"deals": []any{
			map[string]any{"id": "d1", "stage": "qualified", "amount": 100},
			map[string]any{"id": "d3", "stage": "lead", "amount": 10},
		},
	}
}

func assertGolden(t *testing.T, name string, payload *models.SyncPayload) {
	t.Helper()

	out, err := json.MarshalIndent(payload, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(out, '\n'))
}

func acceptAll(version int64) *TransportMock {
	return &TransportMock{
		PushFunc: func(_ context.Context, _ string, p *models.SyncPayload) (int64, error) {
			if version > 0 {
				return version, nil
			}
			return p.Version, nil
		},
	}
}

func TestBuildPayload_FullWithoutSnapshot(t *testing.T) {
	m, _ := createTestManager(t)

	data := map[string]any{
		"name":  "Q3",
		"deals": []any{map[string]any{"id": "d1", "stage": "lead", "amount": 100}},
	}
	payload, err := m.BuildPayload(context.Background(), testKey, data)
	require.NoError(t, err)
	require.NotNil(t, payload)

	assert.Equal(t, models.PayloadFull, payload.Type)
	assert.Equal(t, int64(1), payload.Version)
	assertGolden(t, "full_payload", payload)
}

func TestBuildPayload_Patch(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, pipelineV1())
	require.NoError(t, err)

	payload, err := m.BuildPayload(ctx, testKey, pipelineV2())
	require.NoError(t, err)
	require.NotNil(t, payload)

	assert.Equal(t, models.PayloadPatch, payload.Type)
	assert.Equal(t, int64(2), payload.Version)
	assert.Equal(t, int64(1), payload.BaseVersion)
	assertGolden(t, "patch_payload", payload)

	// Патч переводит снимок ровно в новое состояние
	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	applied, err := diff.Apply(snap.Data, payload.Patch)
	require.NoError(t, err)
	eq, err := diff.Equal(applied, pipelineV2())
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestBuildPayload_UnchangedIsNil(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, pipelineV1())
	require.NoError(t, err)

	payload, err := m.BuildPayload(ctx, testKey, pipelineV1())
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSnapshot_VersionsAndDeepCopy(t *testing.T) {
	ctx := context.Background()
	m, store := createTestManager(t)

	_, err := m.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	data := pipelineV1()
	snap, err := m.Snapshot(ctx, testKey, data)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	// Изменения исходного значения не попадают в снимок
	data["name"] = "mutated"

	got, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	eq, err := diff.Equal(got.Data, pipelineV1())
	require.NoError(t, err)
	assert.True(t, eq)

	snap, err = m.Snapshot(ctx, testKey, data)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)

	// Снимок принадлежит организации из ключа
	recs, err := store.GetAll(ctx, storage.CollectionSyncSnapshots, "acme")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSync_PushesAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)
	transport := acceptAll(0)

	res, err := m.Sync(ctx, testKey, pipelineV1(), transport)
	require.NoError(t, err)
	assert.False(t, res.Skipped())
	assert.Equal(t, models.PayloadFull, res.Payload.Type)
	assert.Equal(t, int64(1), res.Snapshot.Version)

	res, err = m.Sync(ctx, testKey, pipelineV2(), transport)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadPatch, res.Payload.Type)
	assert.Equal(t, int64(2), res.Snapshot.Version)

	// Повторная синхронизация тех же данных не обращается к серверу
	res, err = m.Sync(ctx, testKey, pipelineV2(), transport)
	require.NoError(t, err)
	assert.True(t, res.Skipped())
	assert.Len(t, transport.PushCalls(), 2)
}

func TestSync_AdoptsServerVersion(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	res, err := m.Sync(ctx, testKey, pipelineV1(), acceptAll(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Snapshot.Version)

	payload, err := m.BuildPayload(ctx, testKey, pipelineV2())
	require.NoError(t, err)
	assert.Equal(t, int64(5), payload.BaseVersion)
	assert.Equal(t, int64(6), payload.Version)
}

func TestSync_StaleVersionIsConflict(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, pipelineV1())
	require.NoError(t, err)

	transport := &TransportMock{
		PushFunc: func(context.Context, string, *models.SyncPayload) (int64, error) {
			return 0, &api.Error{StatusCode: http.StatusConflict, Code: "stale_version", ServerVersion: 7}
		},
	}

	_, err = m.Sync(ctx, testKey, pipelineV2(), transport)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.LocalVersion)
	assert.Equal(t, int64(7), conflict.RemoteVersion)

	// Базовая копия не изменилась
	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestSync_TransportFailureKeepsBaseline(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	transport := &TransportMock{
		PushFunc: func(context.Context, string, *models.SyncPayload) (int64, error) {
			return 0, &api.Error{StatusCode: http.StatusServiceUnavailable}
		},
	}

	_, err := m.Sync(ctx, testKey, pipelineV1(), transport)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)

	_, err = m.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestApplyServerPatch(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, map[string]any{"name": "Q3", "owner": "ann"})
	require.NoError(t, err)

	current := map[string]any{"name": "Q3", "owner": "ann", "note": "local"}
	sp := ServerPatch{
		Patch:       &diff.Patch{Modified: map[string]any{"owner": "bob"}},
		BaseVersion: 1,
		Version:     2,
	}

	out, err := m.ApplyServerPatch(ctx, testKey, sp, current)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Q3","note":"local","owner":"bob"}`, string(out))

	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.JSONEq(t, `{"name":"Q3","owner":"bob"}`, string(snap.Data))

	// Локальная правка остается в следующем патче
	payload, err := m.BuildPayload(ctx, testKey, out)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, map[string]any{"note": "local"}, payload.Patch.Added)
}

func TestApplyServerPatch_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, map[string]any{"name": "Q3"})
	require.NoError(t, err)

	sp := ServerPatch{
		Patch:       &diff.Patch{Modified: map[string]any{"name": "Q4"}},
		BaseVersion: 3,
		Version:     4,
	}
	out, err := m.ApplyServerPatch(ctx, testKey, sp, map[string]any{"name": "Q3"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, out)

	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.JSONEq(t, `{"name":"Q3"}`, string(snap.Data))
}

func TestReset_VersionNeverDecreases(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	snap, err := m.Reset(ctx, testKey, map[string]any{"name": "server"}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Version)

	snap, err = m.Reset(ctx, testKey, map[string]any{"name": "older"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Version)
	assert.JSONEq(t, `{"name":"older"}`, string(snap.Data))
}

func TestPull_AppliesPatchChain(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, map[string]any{"name": "Q3", "owner": "ann"})
	require.NoError(t, err)

	fetcher := &FetcherMock{
		FetchFunc: func(_ context.Context, _ string, since int64) (*Remote, error) {
			assert.Equal(t, int64(1), since)
			return &Remote{
				Version: 3,
				Patches: []ServerPatch{
					{Patch: &diff.Patch{Modified: map[string]any{"owner": "bob"}}, BaseVersion: 1, Version: 2},
					{Patch: &diff.Patch{Modified: map[string]any{"name": "Q4"}}, BaseVersion: 2, Version: 3},
				},
			}, nil
		},
	}

	out, err := m.Pull(ctx, testKey, map[string]any{"name": "Q3", "owner": "ann"}, fetcher)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Q4","owner":"bob"}`, string(out))

	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
}

func TestPull_ConflictRefetchesFullState(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, map[string]any{"name": "Q3"})
	require.NoError(t, err)

	fetcher := &FetcherMock{
		FetchFunc: func(_ context.Context, _ string, since int64) (*Remote, error) {
			if since > 0 {
				return &Remote{Version: 9, Patches: []ServerPatch{
					{Patch: &diff.Patch{Modified: map[string]any{"name": "X"}}, BaseVersion: 8, Version: 9},
				}}, nil
			}
			return &Remote{Version: 9, Data: json.RawMessage(`{"name":"server"}`)}, nil
		},
	}

	out, err := m.Pull(ctx, testKey, map[string]any{"name": "Q3"}, fetcher)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"server"}`, string(out))
	assert.Len(t, fetcher.FetchCalls(), 2)

	snap, err := m.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.Version)
}

func TestPull_UpToDate(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, map[string]any{"name": "Q3"})
	require.NoError(t, err)

	fetcher := &FetcherMock{
		FetchFunc: func(context.Context, string, int64) (*Remote, error) {
			return &Remote{Version: 1}, nil
		},
	}

	out, err := m.Pull(ctx, testKey, map[string]any{"name": "Q3", "draft": true}, fetcher)
	require.NoError(t, err)
	assert.JSONEq(t, `{"draft":true,"name":"Q3"}`, string(out))
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	m, _ := createTestManager(t)

	_, err := m.Snapshot(ctx, testKey, pipelineV1())
	require.NoError(t, err)
	require.NoError(t, m.Forget(ctx, testKey))

	payload, err := m.BuildPayload(ctx, testKey, pipelineV1())
	require.NoError(t, err)
	assert.Equal(t, models.PayloadFull, payload.Type)
	assert.Equal(t, int64(1), payload.Version)
}
