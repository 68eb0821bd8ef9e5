package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	apiclient "github.com/iudanet/dealsync/internal/client/api"
	"github.com/iudanet/dealsync/internal/client/auth"
	"github.com/iudanet/dealsync/internal/client/queue"
	"github.com/iudanet/dealsync/internal/client/retry"
	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/internal/validation"
)

// SaveDeal stores the deal locally and sends it to the server. A deal
// without a server version is created, otherwise its fields are updated
// against that version. While offline, or when the server is unreachable,
// the change is queued.
func (r *Runtime) SaveDeal(ctx context.Context, tenantID string, deal models.Deal) (*Outcome, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrInvalidCommand, err)
	}

	deal.TenantID = tenantID
	var cmd models.Command = models.CreateDeal{Deal: deal}
	if deal.Version > 0 {
		cmd = models.UpdateDeal{DealID: deal.ID, Fields: dealFields(deal), BaseVersion: deal.Version}
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrInvalidCommand, err)
	}

	if err := r.putDeal(ctx, &deal); err != nil {
		return nil, err
	}
	return r.submit(ctx, tenantID, cmd, &deal)
}

// GetDeal returns the deal from the cache, the local store or, when online,
// the server.
func (r *Runtime) GetDeal(ctx context.Context, tenantID, id string) (*models.Deal, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	key := dealCacheKey(tenantID, id)
	if v, ok := r.cache.Get(key); ok {
		if d, ok := v.(models.Deal); ok {
			return &d, nil
		}
	}

	rec, err := r.store.Get(ctx, storage.CollectionDeals, recordKey(tenantID, id))
	switch {
	case err == nil:
		var d models.Deal
		if err := rec.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode deal %s: %w", id, err)
		}
		r.cache.Set(key, d, 0)
		return &d, nil
	case !errors.Is(err, storage.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to read deal %s: %w", id, err)
	}

	if r.remote == nil || !r.Online() {
		return nil, fmt.Errorf("%w: %s", ErrDealNotFound, id)
	}

	var (
		mu     sync.Mutex
		remote *models.Deal
	)
	err = r.exec.Execute(ctx, BreakerAPI, func(ctx context.Context) error {
		d, err := r.remote.GetDeal(ctx, tenantID, id)
		if err != nil {
			return err
		}
		mu.Lock()
		remote = d
		mu.Unlock()
		return nil
	})
	if apiErr, ok := apiclient.AsError(err); ok && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrDealNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deal %s: %w", id, err)
	}

	mu.Lock()
	d := *remote
	mu.Unlock()

	if err := r.putDeal(ctx, &d); err != nil {
		return nil, err
	}
	r.cache.Set(key, d, 0)
	return &d, nil
}

// DeleteDeal removes the local copy and deletes the deal on the server.
func (r *Runtime) DeleteDeal(ctx context.Context, tenantID, id string) (*Outcome, error) {
	deal, err := r.GetDeal(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	cmd := models.DeleteDeal{DealID: id, BaseVersion: deal.Version}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrInvalidCommand, err)
	}

	if err := r.discardDeal(ctx, tenantID, id); err != nil {
		return nil, err
	}

	out, err := r.submit(ctx, tenantID, cmd, nil)
	if out != nil {
		out.Deal = nil
	}
	return out, err
}

// MoveDealStage moves the deal to another pipeline stage.
func (r *Runtime) MoveDealStage(ctx context.Context, tenantID, id string, to models.Stage) (*Outcome, error) {
	deal, err := r.GetDeal(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	cmd := models.MoveDealStage{DealID: id, FromStage: deal.Stage, ToStage: to, BaseVersion: deal.Version}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrInvalidCommand, err)
	}

	deal.Stage = to
	if err := r.putDeal(ctx, deal); err != nil {
		return nil, err
	}
	return r.submit(ctx, tenantID, cmd, deal)
}

// submit отправляет команду сразу или ставит ее в очередь
func (r *Runtime) submit(ctx context.Context, tenantID string, cmd models.Command, local *models.Deal) (*Outcome, error) {
	if r.remote == nil || !r.Online() {
		return r.enqueue(ctx, tenantID, cmd, local)
	}

	// Новая команда не должна обогнать уже ожидающие
	pending, err := r.queue.GetPendingCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return r.enqueue(ctx, tenantID, cmd, local)
	}

	var (
		mu     sync.Mutex
		server *models.Deal
	)
	err = r.exec.Execute(ctx, BreakerAPI, func(ctx context.Context) error {
		d, err := r.dispatcher.Dispatch(ctx, tenantID, cmd)
		if err != nil {
			return err
		}
		mu.Lock()
		server = d
		mu.Unlock()
		return nil
	})
	if err == nil {
		mu.Lock()
		d := server
		mu.Unlock()
		if err := r.applyServerDeal(ctx, tenantID, cmd.ResourceID(), d); err != nil {
			return nil, err
		}
		return &Outcome{Deal: d}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	id := cmd.ResourceID()
	switch {
	case r.exec.Classify(err) == retry.ClassConflict:
		// Сервер прав: локальная копия отбрасывается
		if dErr := r.discardDeal(ctx, tenantID, id); dErr != nil {
			r.logger.Warn("Failed to discard stale deal", "deal_id", id, "error", dErr)
		}
		r.report(ctx, telemetry.KindConflict, tenantID, "deal changed on server, local change discarded", map[string]any{
			"deal_id": id,
			"type":    string(cmd.Type()),
		})
		return nil, fmt.Errorf("%w: %w", ErrDealRejected, err)

	case auth.IsAuthError(err):
		r.logger.Warn("Session unavailable, change queued", "tenant_id", tenantID, "deal_id", id)
		return r.enqueue(ctx, tenantID, cmd, local)

	case r.exec.Classify(err) == retry.ClassNonRetryable:
		if dErr := r.discardDeal(ctx, tenantID, id); dErr != nil {
			r.logger.Warn("Failed to discard rejected deal", "deal_id", id, "error", dErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrDealRejected, err)
	}

	r.logger.Info("Server unreachable, change queued", "tenant_id", tenantID, "deal_id", id, "error", err)
	return r.enqueue(ctx, tenantID, cmd, local)
}

func (r *Runtime) enqueue(ctx context.Context, tenantID string, cmd models.Command, local *models.Deal) (*Outcome, error) {
	id, err := r.queue.Enqueue(ctx, tenantID, cmd)
	if err != nil {
		return nil, err
	}
	return &Outcome{Deal: local, CommandID: id, Queued: true}, nil
}

// putDeal сохраняет сделку локально и сбрасывает ее запись в кэше
func (r *Runtime) putDeal(ctx context.Context, deal *models.Deal) error {
	key := recordKey(deal.TenantID, deal.ID)
	if err := r.store.Set(ctx, storage.CollectionDeals, key, deal, storage.SetOptions{TenantID: deal.TenantID}); err != nil {
		return fmt.Errorf("failed to save deal %s: %w", deal.ID, err)
	}
	r.CacheInvalidate(ctx, dealCacheKey(deal.TenantID, deal.ID))
	return nil
}

func (r *Runtime) discardDeal(ctx context.Context, tenantID, id string) error {
	if err := r.store.Delete(ctx, storage.CollectionDeals, recordKey(tenantID, id)); err != nil {
		return fmt.Errorf("failed to delete deal %s: %w", id, err)
	}
	r.CacheInvalidate(ctx, dealCacheKey(tenantID, id))
	return nil
}

// applyServerDeal заменяет локальную копию серверной; nil - сделка удалена
func (r *Runtime) applyServerDeal(ctx context.Context, tenantID, id string, deal *models.Deal) error {
	if deal == nil {
		return r.discardDeal(ctx, tenantID, id)
	}
	if deal.TenantID == "" {
		deal.TenantID = tenantID
	}
	return r.putDeal(ctx, deal)
}

func (r *Runtime) onSynced(ctx context.Context, qc *models.QueuedCommand, deal *models.Deal) {
	id := qc.Command.ResourceID()
	if deal != nil {
		// Локальная копия уже содержит изменения ожидающих команд: сдвигаем только версию
		pending, err := r.queue.HasPendingChangesFor(ctx, id)
		if err == nil && pending {
			if err := r.advanceLocalVersion(ctx, qc.TenantID, id, deal.Version); err == nil {
				return
			}
		}
	}
	if err := r.applyServerDeal(ctx, qc.TenantID, id, deal); err != nil {
		r.logger.Warn("Failed to store synced deal", "command_id", qc.ID, "error", err)
	}
}

func (r *Runtime) advanceLocalVersion(ctx context.Context, tenantID, id string, version int64) error {
	key := recordKey(tenantID, id)
	err := r.store.Update(ctx, storage.CollectionDeals, key, func(rec *models.CacheRecord) error {
		var d models.Deal
		if err := rec.Decode(&d); err != nil {
			return err
		}
		d.Version = max(d.Version, version)
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal deal %s: %w", id, err)
		}
		rec.Value = raw
		return nil
	})
	if err != nil {
		return err
	}
	r.CacheInvalidate(ctx, dealCacheKey(tenantID, id))
	return nil
}

// onConflict отбрасывает локальную копию: следующее чтение возьмет серверную
func (r *Runtime) onConflict(ctx context.Context, qc *models.QueuedCommand, serverVersion int64) {
	id := qc.Command.ResourceID()
	if err := r.discardDeal(ctx, qc.TenantID, id); err != nil {
		r.logger.Warn("Failed to discard conflicting deal", "command_id", qc.ID, "error", err)
		return
	}
	r.logger.Info("Local deal discarded after conflict",
		"tenant_id", qc.TenantID,
		"deal_id", id,
		"server_version", serverVersion,
	)
}

// dealFields возвращает изменяемые поля сделки для UpdateDeal
func dealFields(d models.Deal) map[string]any {
	return map[string]any{
		"title":    d.Title,
		"stage":    string(d.Stage),
		"amount":   d.Amount,
		"currency": d.Currency,
		"owner_id": d.OwnerID,
	}
}
