package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/broadcast"
	"github.com/iudanet/dealsync/internal/client/queue"
	"github.com/iudanet/dealsync/internal/client/retry"
	dsync "github.com/iudanet/dealsync/internal/client/sync"
	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/config"
	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/pkg/api"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	events []telemetry.Event
	mu     sync.Mutex
}

func (r *recordingSink) Report(_ context.Context, ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) count(kind telemetry.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "client.db")
	cfg.Queue.DrainInterval = 0
	cfg.Retry.MaxAttempts = 1
	cfg.Cache.SweepInterval = 0
	cfg.Store.SweepInterval = 0
	return cfg
}

// createTestRuntime запускает runtime поверх временной БД и общей шины
func createTestRuntime(t *testing.T, remote Remote, bus *broadcast.Bus) (*Runtime, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	rt, err := New(testConfig(t), Deps{
		Clock:   clock.NewManual(testStart),
		Remote:  remote,
		Channel: bus,
		Sink:    sink,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Close() })

	return rt, sink
}

func newBus(t *testing.T) *broadcast.Bus {
	t.Helper()
	bus := broadcast.NewBus(16)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func staleError(version int64) error {
	return &apiclient.Error{StatusCode: http.StatusConflict, Code: api.CodeStaleVersion, ServerVersion: version}
}

func TestNew_IsInert(t *testing.T) {
	cfg := testConfig(t)

	rt, err := New(cfg, Deps{})
	require.NoError(t, err)

	_, err = os.Stat(cfg.DBPath)
	assert.True(t, os.IsNotExist(err))

	_, err = rt.GetPendingCount(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err = rt.GetPendingCount(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, rt.Start(context.Background()), ErrClosed)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.Jitter = 2

	_, err := New(cfg, Deps{})
	assert.Error(t, err)
}

// Офлайн-правка уходит на сервер после восстановления связи
func TestReconnect_DrainsQueuedUpdate(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		UpdateDealFunc: func(_ context.Context, tenantID, id string, fields map[string]any, baseVersion int64) (*models.Deal, error) {
			return &models.Deal{ID: id, TenantID: tenantID, Title: fields["title"].(string), Stage: models.StageLead, Version: baseVersion + 1}, nil
		},
	}
	rt, _ := createTestRuntime(t, remote, newBus(t))

	_, err := rt.Enqueue(ctx, "acme", models.UpdateDeal{DealID: "d1", Fields: map[string]any{"title": "Renewal"}, BaseVersion: 1})
	require.NoError(t, err)

	pending, err := rt.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)

	has, err := rt.HasPendingChangesFor(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, has)

	res, err := rt.Reconnect(ctx)
	require.NoError(t, err)
	require.Len(t, res.Drains, 1)
	assert.Equal(t, 1, res.Drains[0].Synced)

	require.Len(t, remote.UpdateDealCalls(), 1)
	assert.Equal(t, int64(1), remote.UpdateDealCalls()[0].BaseVersion)

	pending, err = rt.ListPending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending)

	has, err = rt.HasPendingChangesFor(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, has)

	deal, err := rt.GetDeal(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Renewal", deal.Title)
	assert.Equal(t, int64(2), deal.Version)

	st, err := rt.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Online)
	assert.Empty(t, st.Pending)
	assert.True(t, testStart.Equal(st.LastSync))
}

func TestReconnect_ResetsOpenBreakers(t *testing.T) {
	rt, _ := createTestRuntime(t, &RemoteMock{}, newBus(t))

	b := rt.exec.Breaker(BreakerAPI)
	for i := 0; i < 100 && b.State().State != retry.StateOpen; i++ {
		require.NoError(t, b.Allow())
		b.Failure()
	}
	require.Equal(t, retry.StateOpen, b.State().State)

	_, err := rt.Reconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, retry.StateClosed, b.State().State)
	assert.Zero(t, b.State().FailureCount)
}

func TestReconnect_RetainsDeadLetters(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		UpdateDealFunc: func(context.Context, string, string, map[string]any, int64) (*models.Deal, error) {
			return nil, &apiclient.Error{StatusCode: http.StatusUnprocessableEntity, Code: api.CodeValidationFailed}
		},
	}

	cfg := testConfig(t)
	cfg.Queue.RetainDeadLetters = true
	rt, err := New(cfg, Deps{Clock: clock.NewManual(testStart), Remote: remote})
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() { _ = rt.Close() })

	_, err = rt.Enqueue(ctx, "acme", models.UpdateDeal{DealID: "d1", Fields: map[string]any{"title": "x"}, BaseVersion: 1})
	require.NoError(t, err)

	res, err := rt.Reconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drains[0].Failed)

	failed, err := rt.ListFailed(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, failed, 1)

	st, err := rt.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.DeadLetters)
}

// Устаревшая правка отбрасывается, кэш сбрасывается вместо перезаписи
func TestReconnect_StaleUpdateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		UpdateDealFunc: func(context.Context, string, string, map[string]any, int64) (*models.Deal, error) {
			return nil, staleError(3)
		},
		GetDealFunc: func(_ context.Context, tenantID, id string) (*models.Deal, error) {
			return &models.Deal{ID: id, TenantID: tenantID, Title: "Changed elsewhere", Stage: models.StageProposal, Version: 3}, nil
		},
	}
	rt, sink := createTestRuntime(t, remote, newBus(t))

	out, err := rt.SaveDeal(ctx, "acme", models.Deal{ID: "d1", Title: "Local edit", Stage: models.StageLead, Version: 1})
	require.NoError(t, err)
	assert.True(t, out.Queued)

	// Локальная правка видна до синхронизации и попадает в кэш
	deal, err := rt.GetDeal(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Local edit", deal.Title)
	_, cached := rt.CacheGet(dealCacheKey("acme", "d1"))
	assert.True(t, cached)

	res, err := rt.Reconnect(ctx)
	require.NoError(t, err)
	require.Len(t, res.Drains, 1)
	assert.Equal(t, 1, res.Drains[0].Conflicts)

	pending, err := rt.ListPending(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, cached = rt.CacheGet(dealCacheKey("acme", "d1"))
	assert.False(t, cached)
	assert.Equal(t, 1, sink.count(telemetry.KindConflict))

	// Следующее чтение берет серверную версию
	deal, err = rt.GetDeal(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Changed elsewhere", deal.Title)
	assert.Equal(t, int64(3), deal.Version)
	assert.Len(t, remote.GetDealCalls(), 1)
}

func TestSaveDeal_Online(t *testing.T) {
	tests := []struct {
		name       string
		createErr  error
		wantQueued bool
		wantErr    error
		wantLocal  bool
	}{
		{
			name:      "accepted",
			wantLocal: true,
		},
		{
			name:       "server unavailable is queued",
			createErr:  &apiclient.Error{StatusCode: http.StatusServiceUnavailable},
			wantQueued: true,
			wantLocal:  true,
		},
		{
			name:       "unauthorized is queued",
			createErr:  &apiclient.Error{StatusCode: http.StatusUnauthorized},
			wantQueued: true,
			wantLocal:  true,
		},
		{
			name:      "validation failure is rejected",
			createErr: &apiclient.Error{StatusCode: http.StatusUnprocessableEntity},
			wantErr:   ErrDealRejected,
		},
		{
			name:      "stale version is rejected",
			createErr: staleError(2),
			wantErr:   ErrDealRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			remote := &RemoteMock{
				CreateDealFunc: func(_ context.Context, tenantID string, deal models.Deal) (*models.Deal, error) {
					if tt.createErr != nil {
						return nil, tt.createErr
					}
					deal.Version = 1
					return &deal, nil
				},
			}
			rt, _ := createTestRuntime(t, remote, newBus(t))
			rt.SetOnline(true)

			out, err := rt.SaveDeal(ctx, "acme", models.Deal{ID: "d1", Title: "Acme renewal", Stage: models.StageLead, Amount: 1000})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantQueued, out.Queued)
			}

			count, err := rt.GetPendingCount(ctx, "acme")
			require.NoError(t, err)
			if tt.wantQueued {
				assert.Equal(t, 1, count)
			} else {
				assert.Zero(t, count)
			}

			rt.SetOnline(false)
			_, err = rt.GetDeal(ctx, "acme", "d1")
			if tt.wantLocal {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrDealNotFound)
			}
		})
	}
}

func TestSaveDeal_QueuesBehindPending(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{}
	rt, _ := createTestRuntime(t, remote, newBus(t))

	_, err := rt.SaveDeal(ctx, "acme", models.Deal{ID: "d1", Title: "First"})
	require.NoError(t, err)

	// Связь появилась, но в очереди уже есть команда: новая встает за ней
	rt.SetOnline(true)
	out, err := rt.SaveDeal(ctx, "acme", models.Deal{ID: "d2", Title: "Second"})
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Empty(t, remote.CreateDealCalls())
}

func TestSaveDeal_Invalid(t *testing.T) {
	rt, _ := createTestRuntime(t, &RemoteMock{}, newBus(t))

	_, err := rt.SaveDeal(context.Background(), "acme", models.Deal{ID: "d1"})
	assert.ErrorIs(t, err, queue.ErrInvalidCommand)

	_, err = rt.SaveDeal(context.Background(), "", models.Deal{ID: "d1", Title: "x"})
	assert.ErrorIs(t, err, queue.ErrInvalidCommand)
}

func TestMoveDealStage_Offline(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		UpdateDealFunc: func(_ context.Context, tenantID, id string, _ map[string]any, baseVersion int64) (*models.Deal, error) {
			if baseVersion != 4 {
				return nil, staleError(4)
			}
			return &models.Deal{ID: id, TenantID: tenantID, Title: "Acme", Stage: models.StageLead, Version: 5}, nil
		},
		MoveDealStageFunc: func(_ context.Context, tenantID, id string, from, to models.Stage, baseVersion int64) (*models.Deal, error) {
			if baseVersion != 5 {
				return nil, staleError(5)
			}
			return &models.Deal{ID: id, TenantID: tenantID, Title: "Acme", Stage: to, Version: 6}, nil
		},
	}
	rt, _ := createTestRuntime(t, remote, newBus(t))

	_, err := rt.MoveDealStage(ctx, "acme", "missing", models.StageWon)
	assert.ErrorIs(t, err, ErrDealNotFound)

	_, err = rt.SaveDeal(ctx, "acme", models.Deal{ID: "d1", Title: "Acme", Stage: models.StageLead, Version: 4})
	require.NoError(t, err)

	out, err := rt.MoveDealStage(ctx, "acme", "d1", models.StageQualified)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, models.StageQualified, out.Deal.Stage)

	pending, err := rt.ListPending(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	move, ok := pending[1].Command.(models.MoveDealStage)
	require.True(t, ok)
	assert.Equal(t, models.StageLead, move.FromStage)
	assert.Equal(t, int64(4), move.BaseVersion)

	// Перевод стадии построен на локальной копии с уже учтенным обновлением
	res, err := rt.Reconnect(ctx)
	require.NoError(t, err)
	require.Len(t, res.Drains, 1)
	assert.Equal(t, 2, res.Drains[0].Synced)
	assert.Zero(t, res.Drains[0].Conflicts)

	calls := remote.MoveDealStageCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(5), calls[0].BaseVersion)

	deal, err := rt.GetDeal(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StageQualified, deal.Stage)
	assert.Equal(t, int64(6), deal.Version)
}

func TestDeleteDeal_QueuedBehindUpdate(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		DeleteDealFunc: func(context.Context, string, string, int64) error { return nil },
	}
	rt, _ := createTestRuntime(t, remote, newBus(t))

	_, err := rt.SaveDeal(ctx, "acme", models.Deal{ID: "d1", Title: "Acme", Version: 2})
	require.NoError(t, err)

	// Команда обновления уже в очереди, поэтому удаление тоже ставится в очередь
	rt.SetOnline(true)
	out, err := rt.DeleteDeal(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Nil(t, out.Deal)

	_, err = rt.store.Get(ctx, "deals", recordKey("acme", "d1"))
	assert.Error(t, err)
}

func TestSync_OfflineThenReconnect(t *testing.T) {
	ctx := context.Background()
	remote := &RemoteMock{
		PushResourceFunc: func(_ context.Context, _ string, _ string, req api.PushResourceRequest) (*api.ResourceResponse, error) {
			return &api.ResourceResponse{Version: req.Version}, nil
		},
	}
	rt, _ := createTestRuntime(t, remote, newBus(t))
	key := ResourceKey("acme", "pipeline-q3")

	_, err := rt.Sync(ctx, key, map[string]any{"name": "Q3"}, nil)
	assert.ErrorIs(t, err, ErrOffline)

	raw, err := rt.Resource(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Q3"}`, string(raw))

	res, err := rt.Reconnect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resources)

	calls := remote.PushResourceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acme", calls[0].TenantID)
	assert.Equal(t, "pipeline-q3", calls[0].Key)
	assert.Equal(t, api.PayloadFull, calls[0].Req.Type)

	// Без изменений сеть не используется
	res, err = rt.Reconnect(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Resources)
	assert.Len(t, remote.PushResourceCalls(), 1)

	out, err := rt.Sync(ctx, key, map[string]any{"name": "Q3 pipeline"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PayloadPatch, out.Payload.Type)
	assert.Equal(t, api.PayloadPatch, remote.PushResourceCalls()[1].Req.Type)
	assert.Equal(t, int64(1), remote.PushResourceCalls()[1].Req.BaseVersion)
}

func TestSync_ConflictAdoptsServerState(t *testing.T) {
	ctx := context.Background()
	pushes := 0
	remote := &RemoteMock{
		PushResourceFunc: func(_ context.Context, _ string, _ string, req api.PushResourceRequest) (*api.ResourceResponse, error) {
			pushes++
			if pushes > 1 {
				return nil, staleError(4)
			}
			return &api.ResourceResponse{Version: req.Version}, nil
		},
		FetchResourceFunc: func(_ context.Context, _ string, key string, since int64) (*api.ResourceResponse, error) {
			return &api.ResourceResponse{Key: key, Data: json.RawMessage(`{"name":"server"}`), Version: 4}, nil
		},
	}
	rt, sink := createTestRuntime(t, remote, newBus(t))
	rt.SetOnline(true)
	key := ResourceKey("acme", "pipeline-q3")

	_, err := rt.Sync(ctx, key, map[string]any{"name": "Q3"}, nil)
	require.NoError(t, err)

	_, err = rt.Sync(ctx, key, map[string]any{"name": "local"}, nil)
	require.ErrorIs(t, err, dsync.ErrConflict)
	assert.Equal(t, 1, sink.count(telemetry.KindConflict))

	require.Len(t, remote.FetchResourceCalls(), 1)
	assert.Zero(t, remote.FetchResourceCalls()[0].Since)

	raw, err := rt.Resource(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"server"}`, string(raw))
}

func TestSync_InvalidKey(t *testing.T) {
	rt, _ := createTestRuntime(t, &RemoteMock{}, newBus(t))

	_, err := rt.Sync(context.Background(), "no-tenant", map[string]any{}, nil)
	assert.Error(t, err)
}

func TestEndSession_BroadcastsToOtherRuntimes(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	first, _ := createTestRuntime(t, &RemoteMock{}, bus)
	second, _ := createTestRuntime(t, &RemoteMock{}, bus)

	second.CacheSet("acme/deals/d1", "cached", 0)
	second.CacheSet("globex/deals/d9", "cached", 0)

	require.NoError(t, first.EndSession(ctx, "acme"))

	assert.Eventually(t, func() bool {
		_, ok := second.CacheGet("acme/deals/d1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, ok := second.CacheGet("globex/deals/d9")
	assert.True(t, ok)
}

func TestCacheInvalidate_Broadcasts(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	first, _ := createTestRuntime(t, &RemoteMock{}, bus)
	second, _ := createTestRuntime(t, &RemoteMock{}, bus)

	first.CacheSet("acme/pipeline/q3", 1, 0)
	second.CacheSet("acme/pipeline/q3", 1, 0)

	assert.Equal(t, 1, first.CacheInvalidate(ctx, "acme/pipeline/*"))

	assert.Eventually(t, func() bool {
		_, ok := second.CacheGet("acme/pipeline/q3")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestDrain_RequiresRemote(t *testing.T) {
	sink := &recordingSink{}
	rt, err := New(testConfig(t), Deps{Sink: sink})
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	defer func() { _ = rt.Close() }()

	_, err = rt.Drain(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrNoRemote)

	_, err = rt.Reconnect(context.Background())
	assert.ErrorIs(t, err, ErrNoRemote)
}

func TestSplitResourceKey(t *testing.T) {
	tests := []struct {
		key     string
		tenant  string
		name    string
		wantErr bool
	}{
		{key: "acme/pipeline-q3", tenant: "acme", name: "pipeline-q3"},
		{key: "acme/reports/weekly", tenant: "acme", name: "reports/weekly"},
		{key: "acme", wantErr: true},
		{key: "/x", wantErr: true},
		{key: "acme/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			tenant, name, err := SplitResourceKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.tenant, tenant)
			assert.Equal(t, tt.name, name)
		})
	}
}
