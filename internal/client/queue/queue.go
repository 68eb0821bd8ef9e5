// Package queue persists deal mutations made offline and replays them in
// order when connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/internal/validation"
)

// DefaultMaxAttempts is the attempt ceiling of a queued command.
const DefaultMaxAttempts = 5

// Options configures the queue.
type Options struct {
	Logger   *slog.Logger
	Clock    clock.Clock
	Sink     telemetry.Sink
	Notifier telemetry.Notifier
	// IsAuthError stops a tenant drain when the session is gone.
	IsAuthError func(error) bool
	// OnSynced is called after the server accepted a command.
	OnSynced func(ctx context.Context, cmd *models.QueuedCommand, deal *models.Deal)
	// OnConflict is called when the server rejected a command as stale.
	OnConflict func(ctx context.Context, cmd *models.QueuedCommand, serverVersion int64)
	// BreakerName selects the circuit breaker used for dispatch.
	BreakerName string
	MaxAttempts int
	// Concurrency limits tenants drained at once by DrainAll.
	Concurrency int
	// RetainDeadLetters keeps permanently failed commands for ListFailed
	// instead of removing them.
	RetainDeadLetters bool
}

// Queue is the offline mutation queue.
type Queue struct {
	store    storage.RecordStorage
	exec     Executor
	logger   *slog.Logger
	clock    clock.Clock
	seq      *clock.Sequence
	tenantMu map[string]*sync.Mutex
	opts     Options
	seqMu    sync.Mutex
	mu       sync.Mutex
	seqReady bool
}

// New creates a queue over the offline_queue collection of store.
func New(store storage.RecordStorage, exec Executor, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BreakerName == "" {
		opts.BreakerName = "api"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	return &Queue{
		store:    store,
		exec:     exec,
		logger:   opts.Logger,
		clock:    opts.Clock,
		seq:      clock.NewSequence(0),
		tenantMu: make(map[string]*sync.Mutex),
		opts:     opts,
	}
}

// Enqueue validates and persists a command. It returns the command id.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, cmd models.Command) (string, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd == nil {
		return "", fmt.Errorf("%w: command is nil", ErrInvalidCommand)
	}
	if !cmd.Type().Valid() {
		return "", fmt.Errorf("%w: unknown command type %q", ErrInvalidCommand, cmd.Type())
	}
	if err := cmd.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	if err := q.ensureSeq(ctx); err != nil {
		return "", err
	}

	qc := &models.QueuedCommand{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Command:     cmd,
		Status:      models.StatusPending,
		CreatedAt:   q.clock.Now(),
		Seq:         q.seq.Next(),
		MaxAttempts: q.opts.MaxAttempts,
	}

	err := q.store.Set(ctx, storage.CollectionOfflineQueue, qc.ID, qc, storage.SetOptions{TenantID: tenantID})
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			q.opts.Sink.Report(ctx, telemetry.Event{
				At:       q.clock.Now(),
				Kind:     telemetry.KindQuotaExceeded,
				TenantID: tenantID,
				Message:  "offline queue write rejected by quota",
			})
		}
		return "", fmt.Errorf("failed to enqueue %s: %w", cmd.Type(), err)
	}

	q.logger.Debug("Command enqueued",
		"tenant_id", tenantID,
		"command_id", qc.ID,
		"type", cmd.Type(),
		"resource_id", cmd.ResourceID(),
	)
	return qc.ID, nil
}

// Get returns a queued command by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueuedCommand, error) {
	rec, err := q.store.Get(ctx, storage.CollectionOfflineQueue, id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

// ListPending returns drainable commands of the tenant in FIFO order.
// Empty tenantID lists every tenant.
func (q *Queue) ListPending(ctx context.Context, tenantID string) ([]*models.QueuedCommand, error) {
	return q.list(ctx, tenantID, (*models.QueuedCommand).Drainable)
}

// ListFailed returns permanently failed commands kept as dead letters.
func (q *Queue) ListFailed(ctx context.Context, tenantID string) ([]*models.QueuedCommand, error) {
	return q.list(ctx, tenantID, func(qc *models.QueuedCommand) bool { return qc.Permanent })
}

// GetPendingCount returns the number of drainable commands of the tenant.
func (q *Queue) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	pending, err := q.ListPending(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// HasPendingChangesFor reports whether any unsynced command touches resourceID.
func (q *Queue) HasPendingChangesFor(ctx context.Context, resourceID string) (bool, error) {
	all, err := q.list(ctx, "", func(qc *models.QueuedCommand) bool {
		return qc.Drainable() || qc.Status == models.StatusSyncing
	})
	if err != nil {
		return false, err
	}
	for _, qc := range all {
		if qc.Command.ResourceID() == resourceID {
			return true, nil
		}
	}
	return false, nil
}

// Tenants returns tenants that have drainable commands.
func (q *Queue) Tenants(ctx context.Context) ([]string, error) {
	pending, err := q.ListPending(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var tenants []string
	for _, qc := range pending {
		if !seen[qc.TenantID] {
			seen[qc.TenantID] = true
			tenants = append(tenants, qc.TenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// MarkSyncing moves a command to syncing and counts the attempt.
// Returns ErrAttemptsExhausted once Attempts reached MaxAttempts.
func (q *Queue) MarkSyncing(ctx context.Context, id string) error {
	_, err := q.begin(ctx, id)
	return err
}

// begin переводит команду в syncing и возвращает ее актуальное состояние
func (q *Queue) begin(ctx context.Context, id string) (*models.QueuedCommand, error) {
	var cur *models.QueuedCommand
	err := q.update(ctx, id, func(qc *models.QueuedCommand) error {
		if qc.Attempts >= qc.MaxAttempts {
			return fmt.Errorf("%w: %d of %d", ErrAttemptsExhausted, qc.Attempts, qc.MaxAttempts)
		}
		qc.Attempts++
		qc.Status = models.StatusSyncing
		cur = qc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// Rebase moves the base version of later drainable commands on the same
// deal to serverVersion. They were built on the local copy that already
// contained the synced change.
func (q *Queue) Rebase(ctx context.Context, synced *models.QueuedCommand, serverVersion int64) (int, error) {
	resourceID := synced.Command.ResourceID()
	later, err := q.list(ctx, synced.TenantID, func(qc *models.QueuedCommand) bool {
		return qc.Drainable() && qc.ID != synced.ID &&
			qc.Command.ResourceID() == resourceID && synced.Before(qc)
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, qc := range later {
		err := q.update(ctx, qc.ID, func(stored *models.QueuedCommand) error {
			next, ok := models.Rebase(stored.Command, serverVersion)
			if ok {
				stored.Command = next
				n++
			}
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("failed to rebase command %s: %w", qc.ID, err)
		}
	}
	return n, nil
}

// MarkSynced records that the server accepted the command.
func (q *Queue) MarkSynced(ctx context.Context, id string, serverVersion int64) error {
	return q.update(ctx, id, func(qc *models.QueuedCommand) error {
		now := q.clock.Now()
		qc.Status = models.StatusSynced
		qc.SyncedAt = &now
		qc.ServerVersion = serverVersion
		qc.LastError = ""
		return nil
	})
}

// MarkFailed records a failed attempt; the command stays drainable.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	return q.update(ctx, id, func(qc *models.QueuedCommand) error {
		qc.Status = models.StatusFailed
		qc.LastError = errString(cause)
		return nil
	})
}

// MarkConflict resolves a stale-version rejection in favor of the server:
// the command is marked synced without being reapplied.
func (q *Queue) MarkConflict(ctx context.Context, id string, serverVersion int64) error {
	return q.update(ctx, id, func(qc *models.QueuedCommand) error {
		now := q.clock.Now()
		qc.Status = models.StatusSynced
		qc.SyncedAt = &now
		qc.ServerVersion = serverVersion
		qc.LastError = fmt.Sprintf("stale version, server has version %d", serverVersion)
		return nil
	})
}

// MarkPermanentFailure removes the command from future drains.
func (q *Queue) MarkPermanentFailure(ctx context.Context, id string, cause error) error {
	return q.update(ctx, id, func(qc *models.QueuedCommand) error {
		qc.Status = models.StatusFailed
		qc.Permanent = true
		qc.LastError = errString(cause)
		return nil
	})
}

// Clear removes commands by id in one transaction.
func (q *Queue) Clear(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.store.DeleteMany(ctx, storage.CollectionOfflineQueue, ids); err != nil {
		return fmt.Errorf("failed to clear commands: %w", err)
	}
	return nil
}

// Recover returns commands left in syncing by an interrupted drain to
// pending. The interrupted attempt is not counted.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	all, err := q.list(ctx, "", func(qc *models.QueuedCommand) bool {
		return qc.Status == models.StatusSyncing
	})
	if err != nil {
		return 0, err
	}

	for _, qc := range all {
		if err := q.release(ctx, qc.ID); err != nil {
			return 0, err
		}
	}
	if len(all) > 0 {
		q.logger.Info("Recovered interrupted commands", "count", len(all))
	}
	return len(all), nil
}

// release возвращает команду в pending без учета попытки
func (q *Queue) release(ctx context.Context, id string) error {
	return q.update(ctx, id, func(qc *models.QueuedCommand) error {
		if qc.Attempts > 0 {
			qc.Attempts--
		}
		qc.Status = models.StatusPending
		return nil
	})
}

func (q *Queue) list(ctx context.Context, tenantID string, keep func(*models.QueuedCommand) bool) ([]*models.QueuedCommand, error) {
	recs, err := q.store.GetAll(ctx, storage.CollectionOfflineQueue, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	out := make([]*models.QueuedCommand, 0, len(recs))
	for _, rec := range recs {
		qc, err := decode(rec)
		if err != nil {
			// Поврежденную запись пропускаем, чтобы не блокировать остальную очередь
			q.logger.Warn("Skipping unreadable queued command", "command_id", rec.ID, "error", err)
			continue
		}
		if keep(qc) {
			out = append(out, qc)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (q *Queue) update(ctx context.Context, id string, fn func(qc *models.QueuedCommand) error) error {
	err := q.store.Update(ctx, storage.CollectionOfflineQueue, id, func(rec *models.CacheRecord) error {
		qc, err := decode(rec)
		if err != nil {
			return err
		}
		if err := fn(qc); err != nil {
			return err
		}
		raw, err := json.Marshal(qc)
		if err != nil {
			return fmt.Errorf("failed to marshal queued command: %w", err)
		}
		rec.Value = raw
		return nil
	})
	if errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return err
}

// ensureSeq продолжает последовательность после перезапуска
func (q *Queue) ensureSeq(ctx context.Context) error {
	q.seqMu.Lock()
	defer q.seqMu.Unlock()

	if q.seqReady {
		return nil
	}

	recs, err := q.store.GetAll(ctx, storage.CollectionOfflineQueue, "")
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	for _, rec := range recs {
		if qc, err := decode(rec); err == nil {
			q.seq.Observe(qc.Seq)
		}
	}
	q.seqReady = true
	return nil
}

func (q *Queue) tenantLock(tenantID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.tenantMu[tenantID]
	if !ok {
		m = &sync.Mutex{}
		q.tenantMu[tenantID] = m
	}
	return m
}

func decode(rec *models.CacheRecord) (*models.QueuedCommand, error) {
	var qc models.QueuedCommand
	if err := json.Unmarshal(rec.Value, &qc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queued command %s: %w", rec.ID, err)
	}
	return &qc, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
