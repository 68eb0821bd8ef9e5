// Package offline wires the persistent store, cache, retry layer, offline
// queue and differential sync into one explicitly constructed runtime.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/dealsync/internal/client/auth"
	"github.com/iudanet/dealsync/internal/client/broadcast"
	"github.com/iudanet/dealsync/internal/client/cache"
	"github.com/iudanet/dealsync/internal/client/queue"
	"github.com/iudanet/dealsync/internal/client/retry"
	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/client/storage/boltdb"
	dsync "github.com/iudanet/dealsync/internal/client/sync"
	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/config"
	"github.com/iudanet/dealsync/internal/models"
)

// Имена circuit breaker'ов по зависимостям
const (
	BreakerAPI  = "api"
	BreakerSync = "sync"
)

// SessionStore ends user sessions. *auth.Service implements it.
type SessionStore interface {
	Logout(ctx context.Context, tenantID string) error
}

// Deps carries collaborators of the runtime. Nil fields get defaults.
type Deps struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Remote   Remote            // nil - только локальная работа
	Store    *boltdb.Storage   // nil - файл cfg.DBPath
	Channel  broadcast.Channel // nil - по cfg.Broadcast
	Sink     telemetry.Sink
	Notifier telemetry.Notifier
	Sessions SessionStore
	// Sleep waits between retry attempts; nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome describes what happened to a local change.
type Outcome struct {
	Deal      *models.Deal `json:"deal,omitempty"`
	CommandID string       `json:"command_id,omitempty"` // id команды в очереди
	Queued    bool         `json:"queued"`
}

// Status is a snapshot of runtime health for UI indicators.
type Status struct {
	LastSync      time.Time            `json:"last_sync,omitzero"`
	Pending       map[string]int       `json:"pending"`
	Breakers      []retry.BreakerState `json:"breakers"`
	Cache         cache.Stats          `json:"cache"`
	StoreBytes    int64                `json:"store_bytes"`
	SchemaVersion int                  `json:"schema_version"`
	DeadLetters   int                  `json:"dead_letters"`
	Online        bool                 `json:"online"`
}

// ReconnectResult summarizes one Reconnect.
type ReconnectResult struct {
	Drains    []*queue.DrainResult `json:"drains"`
	Resources int                  `json:"resources"` // отправлено ресурсов
	Conflicts int                  `json:"conflicts"` // ресурсов, замененных серверной версией
}

// Runtime is the client context object. Build it with New, then Start it;
// nothing touches disk or network before Start.
type Runtime struct {
	cfg         *config.Config
	store       *boltdb.Storage
	cache       *cache.Cache
	exec        *retry.Executor
	queue       *queue.Queue
	sync        *dsync.Manager
	remote      Remote
	dispatcher  dispatcher
	resources   resources
	channel     broadcast.Channel
	sink        telemetry.Sink
	asyncSink   *telemetry.AsyncSink
	inbox       *telemetry.Inbox
	sessions    SessionStore
	logger      *slog.Logger
	clock       clock.Clock
	unsubscribe func()
	cancel      context.CancelFunc
	loopDone    chan struct{}
	origin      string
	mu          sync.Mutex
	online      atomic.Bool
	started     bool
	closed      bool
	ownsStore   bool
	ownsChannel bool
}

// New builds an inert runtime from cfg. A nil cfg selects config.Default().
func New(cfg *config.Config, deps Deps) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	r := &Runtime{
		cfg:        cfg,
		remote:     deps.Remote,
		dispatcher: dispatcher{remote: deps.Remote},
		resources:  resources{remote: deps.Remote},
		channel:    deps.Channel,
		sink:       deps.Sink,
		sessions:   deps.Sessions,
		logger:     deps.Logger,
		clock:      deps.Clock,
		origin:     uuid.NewString(),
	}

	if r.sink == nil {
		r.asyncSink = telemetry.NewAsyncSink(telemetry.NewLogSink(deps.Logger), 256)
		r.sink = r.asyncSink
	}

	notifier := deps.Notifier
	if notifier == nil {
		r.inbox = telemetry.NewInbox(100)
		notifier = r.inbox
	}

	r.store = deps.Store
	if r.store == nil {
		r.store = boltdb.New(cfg.DBPath, boltdb.Options{
			Logger:      deps.Logger,
			Clock:       deps.Clock,
			MaxBytes:    cfg.Store.MaxBytes,
			OpenTimeout: cfg.Store.OpenTimeout,
		})
		r.ownsStore = true
	}

	r.cache = cache.New(cache.Options{Clock: deps.Clock, DefaultTTL: cfg.Cache.DefaultTTL})

	r.exec = retry.NewExecutor(
		retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff: retry.Backoff{
				Base:   cfg.Retry.BaseDelay,
				Cap:    cfg.Retry.MaxDelay,
				Jitter: cfg.Retry.Jitter,
			},
		},
		retry.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			CallTimeout:      cfg.Breaker.CallTimeout,
		},
		retry.Options{
			Clock:       deps.Clock,
			Sink:        r.sink,
			Logger:      deps.Logger,
			IsAuthError: auth.IsAuthError,
			Sleep:       deps.Sleep,
		},
	)

	r.queue = queue.New(r.store, r.exec, queue.Options{
		Logger:            deps.Logger,
		Clock:             deps.Clock,
		Sink:              r.sink,
		Notifier:          notifier,
		IsAuthError:       auth.IsAuthError,
		OnSynced:          r.onSynced,
		OnConflict:        r.onConflict,
		BreakerName:       BreakerAPI,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		RetainDeadLetters: cfg.Queue.RetainDeadLetters,
	})

	r.sync = dsync.NewManager(r.store, r.exec, dsync.Options{
		Logger:      deps.Logger,
		Clock:       deps.Clock,
		BreakerName: BreakerSync,
	})

	return r, nil
}

// Start opens the store, returns interrupted commands to the queue, joins
// the broadcast channel and starts background loops.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	if err := r.store.Start(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	recovered, err := r.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover offline queue: %w", err)
	}
	if recovered > 0 {
		r.logger.Info("Interrupted commands returned to queue", "count", recovered)
	}

	if r.channel == nil {
		ch, err := r.newChannel()
		if err != nil {
			return err
		}
		r.channel = ch
		r.ownsChannel = true
	}
	r.unsubscribe = r.channel.Subscribe(r.handleMessage)

	r.store.StartSweeper(r.cfg.Store.SweepInterval)
	r.cache.StartSweeper(r.cfg.Cache.SweepInterval)

	if r.remote != nil && r.cfg.Queue.DrainInterval > 0 {
		loopCtx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.loopDone = make(chan struct{})
		go r.drainLoop(loopCtx, r.cfg.Queue.DrainInterval, r.loopDone)
	}

	r.started = true
	r.logger.Debug("Runtime started", "db_path", r.cfg.DBPath, "origin", r.origin)
	return nil
}

// Close stops background work and releases owned resources. It is safe to
// call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done, unsubscribe := r.cancel, r.loopDone, r.unsubscribe
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	if r.ownsChannel && r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	r.cache.Stop()
	if r.ownsStore {
		errs = append(errs, r.store.Close())
	} else {
		r.store.Stop()
	}
	if r.asyncSink != nil {
		r.asyncSink.Close()
	}

	return errors.Join(errs...)
}

// SetOnline records connectivity reported by the platform.
func (r *Runtime) SetOnline(online bool) {
	if prev := r.online.Swap(online); prev != online {
		r.logger.Info("Connectivity changed", "online", online)
	}
}

// Online reports the last connectivity state.
func (r *Runtime) Online() bool {
	return r.online.Load()
}

// Execute runs op with retries under the named circuit breaker.
func (r *Runtime) Execute(ctx context.Context, breakerName string, op func(ctx context.Context) error) error {
	return r.exec.Execute(ctx, breakerName, op)
}

// Enqueue adds a command to the offline queue.
func (r *Runtime) Enqueue(ctx context.Context, tenantID string, cmd models.Command) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	return r.queue.Enqueue(ctx, tenantID, cmd)
}

// ListPending returns commands awaiting sync in drain order.
func (r *Runtime) ListPending(ctx context.Context, tenantID string) ([]*models.QueuedCommand, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.queue.ListPending(ctx, tenantID)
}

// ListFailed returns commands that will never be synced.
func (r *Runtime) ListFailed(ctx context.Context, tenantID string) ([]*models.QueuedCommand, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.queue.ListFailed(ctx, tenantID)
}

// GetPendingCount returns the number of commands awaiting sync.
func (r *Runtime) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	return r.queue.GetPendingCount(ctx, tenantID)
}

// HasPendingChangesFor reports whether a deal has unsynced changes.
func (r *Runtime) HasPendingChangesFor(ctx context.Context, resourceID string) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	return r.queue.HasPendingChangesFor(ctx, resourceID)
}

// CacheGet reads the fast-path cache.
func (r *Runtime) CacheGet(key string) (any, bool) {
	return r.cache.Get(key)
}

// CacheSet writes the fast-path cache. Zero ttl selects the default.
func (r *Runtime) CacheSet(key string, value any, ttl time.Duration) {
	r.cache.Set(key, value, ttl)
}

// CacheInvalidate removes entries matching pattern here and in every other
// runtime on the broadcast channel.
func (r *Runtime) CacheInvalidate(ctx context.Context, pattern string) int {
	n := r.cache.Invalidate(pattern)
	r.publish(ctx, broadcast.Message{
		Kind:     broadcast.KindCacheInvalidated,
		TenantID: tenantOf(pattern),
		Pattern:  pattern,
	})
	return n
}

// Drain replays the tenant's queued commands now.
func (r *Runtime) Drain(ctx context.Context, tenantID string) (*queue.DrainResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.remote == nil {
		return nil, ErrNoRemote
	}
	return r.queue.Drain(ctx, tenantID, r.dispatcher)
}

// Reconnect marks the runtime online, drains every tenant queue and pushes
// locally changed resources.
func (r *Runtime) Reconnect(ctx context.Context) (*ReconnectResult, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if r.remote == nil {
		return nil, ErrNoRemote
	}

	r.SetOnline(true)
	// Связь восстановлена: не ждем ResetTimeout открытых цепей
	r.exec.ResetBreakers()

	drains, drainErr := r.queue.DrainAll(ctx, r.dispatcher)
	res := &ReconnectResult{Drains: drains}

	syncErr := r.syncResources(ctx, res)
	if err := errors.Join(drainErr, syncErr); err != nil {
		return res, err
	}

	if err := r.store.SaveLastSyncTimestamp(ctx, r.clock.Now().Unix()); err != nil {
		r.logger.Warn("Failed to save last sync time", "error", err)
	}
	return res, nil
}

// EndSession logs the tenant out and drops its cached data in every
// runtime on the broadcast channel.
func (r *Runtime) EndSession(ctx context.Context, tenantID string) error {
	if r.sessions != nil {
		if err := r.sessions.Logout(ctx, tenantID); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
	}

	n := r.cache.InvalidateTenant(tenantID)
	r.publish(ctx, broadcast.Message{Kind: broadcast.KindSessionEnded, TenantID: tenantID})

	r.logger.Info("Session ended", "tenant_id", tenantID, "cache_entries", n)
	return nil
}

// Sweep removes expired records from the store and the cache.
func (r *Runtime) Sweep(ctx context.Context) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}

	n, err := r.store.Sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep store: %w", err)
	}
	return n + r.cache.Sweep(), nil
}

// Status reports queue, breaker, cache and store state.
func (r *Runtime) Status(ctx context.Context) (*Status, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	st := &Status{
		Online:   r.Online(),
		Breakers: r.exec.Breakers(),
		Cache:    r.cache.Stats(),
		Pending:  make(map[string]int),
	}

	tenants, err := r.queue.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	for _, tenantID := range tenants {
		n, err := r.queue.GetPendingCount(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			st.Pending[tenantID] = n
		}
	}

	failed, err := r.queue.ListFailed(ctx, "")
	if err != nil {
		return nil, err
	}
	st.DeadLetters = len(failed)

	if st.StoreBytes, err = r.store.Usage(ctx); err != nil {
		return nil, fmt.Errorf("failed to read store usage: %w", err)
	}
	if st.SchemaVersion, err = r.store.SchemaVersion(ctx); err != nil {
		return nil, err
	}

	last, err := r.store.GetLastSyncTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if last > 0 {
		st.LastSync = time.Unix(last, 0).UTC()
	}

	return st, nil
}

// TakeNotifications returns user notifications collected since the last
// call. It returns nil when notifications go to an external Notifier.
func (r *Runtime) TakeNotifications() []telemetry.Notification {
	if r.inbox == nil {
		return nil
	}
	return r.inbox.Take()
}

func (r *Runtime) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.closed:
		return ErrClosed
	case !r.started:
		return ErrNotStarted
	}
	return nil
}

func (r *Runtime) newChannel() (broadcast.Channel, error) {
	if r.cfg.Broadcast.Dir == "" {
		return broadcast.NewBus(0), nil
	}

	ch, err := broadcast.NewDirChannel(r.cfg.Broadcast.Dir, broadcast.DirOptions{Logger: r.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open broadcast channel: %w", err)
	}
	return ch, nil
}

// drainLoop периодически разбирает очередь, пока клиент онлайн
func (r *Runtime) drainLoop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.online.Load() {
				continue
			}
			if _, err := r.queue.DrainAll(ctx, r.dispatcher); err != nil && ctx.Err() == nil {
				r.logger.Warn("Periodic drain failed", "error", err)
			}
		}
	}
}

func (r *Runtime) handleMessage(msg broadcast.Message) {
	if msg.Origin == r.origin {
		return
	}

	switch msg.Kind {
	case broadcast.KindSessionEnded:
		n := r.cache.InvalidateTenant(msg.TenantID)
		r.logger.Debug("Session ended elsewhere, cache dropped", "tenant_id", msg.TenantID, "entries", n)
	case broadcast.KindCacheInvalidated:
		r.cache.Invalidate(msg.Pattern)
	default:
		r.logger.Debug("Unknown broadcast message ignored", "kind", msg.Kind)
	}
}

func (r *Runtime) publish(ctx context.Context, msg broadcast.Message) {
	r.mu.Lock()
	ch := r.channel
	r.mu.Unlock()
	if ch == nil {
		return
	}

	msg.Origin = r.origin
	msg.At = r.clock.Now()
	if err := ch.Publish(ctx, msg); err != nil {
		r.logger.Warn("Failed to publish broadcast message", "kind", msg.Kind, "error", err)
	}
}

func (r *Runtime) report(ctx context.Context, kind telemetry.Kind, tenantID, message string, attrs map[string]any) {
	r.sink.Report(ctx, telemetry.Event{
		At:         r.clock.Now(),
		Kind:       kind,
		TenantID:   tenantID,
		Message:    message,
		Attributes: attrs,
	})
}

func tenantOf(key string) string {
	tenantID, _, _ := strings.Cut(key, "/")
	return tenantID
}

// recordKey — ключ записи в коллекции: организация и идентификатор
func recordKey(tenantID, id string) string {
	return tenantID + "/" + id
}

func dealCacheKey(tenantID, id string) string {
	return cache.Key(tenantID, string(storage.CollectionDeals), id)
}
