package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/dealsync/internal/client/retry"
	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/models"
)

//go:generate moq -out dispatcher_mock.go . Dispatcher

// Dispatcher sends one command to the server. It returns the server state
// of the deal, or nil when the deal no longer exists.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID string, cmd models.Command) (*models.Deal, error)
}

// Executor runs a network operation with retries and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, breakerName string, op func(ctx context.Context) error) error
	Classify(err error) retry.Class
}

// DrainResult summarizes one tenant drain.
type DrainResult struct {
	TenantID  string
	Synced    int
	Conflicts int
	Failed    int // перешли в постоянную ошибку
	Remaining int // остались в очереди
}

// currentVersioner is implemented by stale-version errors.
type currentVersioner interface {
	CurrentVersion() int64
}

// Drain replays the tenant's pending commands in FIFO order. It stops at
// the first command that stays queued so later commands never overtake it.
// Two drains of the same tenant never interleave.
func (q *Queue) Drain(ctx context.Context, tenantID string, d Dispatcher) (*DrainResult, error) {
	lock := q.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	pending, err := q.ListPending(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	res := &DrainResult{TenantID: tenantID}
	if len(pending) == 0 {
		return res, nil
	}

	q.logger.Info("Draining offline queue", "tenant_id", tenantID, "pending", len(pending))

	for i, qc := range pending {
		stop, err := q.drainOne(ctx, qc, d, res)
		if stop || err != nil {
			res.Remaining = len(pending) - i
			q.logger.Info("Drain stopped",
				"tenant_id", tenantID,
				"command_id", qc.ID,
				"remaining", res.Remaining,
				"error", err,
			)
			return res, err
		}
	}

	q.logger.Info("Offline queue drained",
		"tenant_id", tenantID,
		"synced", res.Synced,
		"conflicts", res.Conflicts,
		"failed", res.Failed,
	)
	return res, nil
}

// DrainAll drains every tenant with pending commands. Distinct tenants are
// drained concurrently; an error of one tenant does not stop the others.
func (q *Queue) DrainAll(ctx context.Context, d Dispatcher) ([]*DrainResult, error) {
	tenants, err := q.Tenants(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]*DrainResult, len(tenants))
		errs    []error
	)

	g := new(errgroup.Group)
	g.SetLimit(q.opts.Concurrency)
	for i, tenantID := range tenants {
		g.Go(func() error {
			res, err := q.Drain(ctx, tenantID, d)
			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// drainOne отправляет одну команду. stop=true означает, что команда осталась
// в очереди и обработку организации нужно прекратить.
func (q *Queue) drainOne(ctx context.Context, qc *models.QueuedCommand, d Dispatcher, res *DrainResult) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}

	cur, err := q.begin(ctx, qc.ID)
	if err != nil {
		if errors.Is(err, ErrAttemptsExhausted) {
			return false, q.fail(ctx, qc, err, res)
		}
		return true, err
	}
	// Базовая версия могла сдвинуться после синхронизации предыдущей команды
	qc = cur

	var (
		mu   sync.Mutex
		deal *models.Deal
	)
	err = q.exec.Execute(ctx, q.opts.BreakerName, func(ctx context.Context) error {
		got, err := d.Dispatch(ctx, qc.TenantID, qc.Command)
		if err != nil {
			return err
		}
		mu.Lock()
		deal = got
		mu.Unlock()
		return nil
	})

	if err == nil {
		mu.Lock()
		got := deal
		mu.Unlock()
		return false, q.synced(ctx, qc, got, res)
	}

	switch {
	case errors.Is(err, retry.ErrCircuitOpen):
		// Вызов не выполнялся: попытку не считаем
		if relErr := q.release(ctx, qc.ID); relErr != nil {
			return true, relErr
		}
		return true, nil

	case q.opts.IsAuthError != nil && q.opts.IsAuthError(err):
		if markErr := q.MarkFailed(ctx, qc.ID, err); markErr != nil {
			return true, markErr
		}
		return true, err

	case ctx.Err() != nil:
		if relErr := q.release(context.WithoutCancel(ctx), qc.ID); relErr != nil {
			return true, relErr
		}
		return true, ctx.Err()
	}

	switch q.exec.Classify(err) {
	case retry.ClassConflict:
		return false, q.conflict(ctx, qc, err, res)

	case retry.ClassNonRetryable:
		return false, q.fail(ctx, qc, err, res)

	default:
		if qc.Attempts >= qc.MaxAttempts {
			return false, q.fail(ctx, qc, fmt.Errorf("gave up after %d attempts: %w", qc.Attempts, err), res)
		}
		if markErr := q.MarkFailed(ctx, qc.ID, err); markErr != nil {
			return true, markErr
		}
		q.logger.Warn("Command will be retried",
			"tenant_id", qc.TenantID,
			"command_id", qc.ID,
			"attempts", qc.Attempts,
			"max_attempts", qc.MaxAttempts,
			"error", err,
		)
		return true, nil
	}
}

func (q *Queue) synced(ctx context.Context, qc *models.QueuedCommand, deal *models.Deal, res *DrainResult) error {
	var version int64
	if deal != nil {
		version = deal.Version
	}
	if err := q.MarkSynced(ctx, qc.ID, version); err != nil {
		return err
	}
	if deal != nil {
		n, err := q.Rebase(ctx, qc, version)
		if err != nil {
			return err
		}
		if n > 0 {
			q.logger.Debug("Rebased queued commands", "tenant_id", qc.TenantID, "resource_id", qc.Command.ResourceID(), "count", n, "server_version", version)
		}
	}
	if q.opts.OnSynced != nil {
		q.opts.OnSynced(ctx, qc, deal)
	}
	if err := q.Clear(ctx, qc.ID); err != nil {
		return err
	}

	res.Synced++
	q.logger.Debug("Command synced", "tenant_id", qc.TenantID, "command_id", qc.ID, "server_version", version)
	return nil
}

// conflict применяет правило "сервер побеждает": команда отбрасывается
func (q *Queue) conflict(ctx context.Context, qc *models.QueuedCommand, cause error, res *DrainResult) error {
	var serverVersion int64
	var cv currentVersioner
	if errors.As(cause, &cv) {
		serverVersion = cv.CurrentVersion()
	}

	if err := q.MarkConflict(ctx, qc.ID, serverVersion); err != nil {
		return err
	}
	if q.opts.OnConflict != nil {
		q.opts.OnConflict(ctx, qc, serverVersion)
	}

	q.opts.Sink.Report(ctx, telemetry.Event{
		At:       q.clock.Now(),
		Kind:     telemetry.KindConflict,
		TenantID: qc.TenantID,
		Message:  "queued command discarded, server version wins",
		Attributes: map[string]any{
			"command_id":     qc.ID,
			"command_type":   string(qc.Type()),
			"resource_id":    qc.Command.ResourceID(),
			"server_version": serverVersion,
		},
	})

	if err := q.Clear(ctx, qc.ID); err != nil {
		return err
	}

	res.Conflicts++
	q.logger.Info("Conflict resolved by server",
		"tenant_id", qc.TenantID,
		"command_id", qc.ID,
		"resource_id", qc.Command.ResourceID(),
		"server_version", serverVersion,
	)
	return nil
}

func (q *Queue) fail(ctx context.Context, qc *models.QueuedCommand, cause error, res *DrainResult) error {
	if err := q.MarkPermanentFailure(ctx, qc.ID, cause); err != nil {
		return err
	}

	q.opts.Sink.Report(ctx, telemetry.Event{
		At:       q.clock.Now(),
		Kind:     telemetry.KindPermanentFailure,
		TenantID: qc.TenantID,
		Message:  cause.Error(),
		Attributes: map[string]any{
			"command_id":   qc.ID,
			"command_type": string(qc.Type()),
			"resource_id":  qc.Command.ResourceID(),
			"attempts":     qc.Attempts,
		},
	})
	if q.opts.Notifier != nil {
		q.opts.Notifier.Notify(ctx, telemetry.Notification{
			At:         q.clock.Now(),
			TenantID:   qc.TenantID,
			CommandID:  qc.ID,
			ResourceID: qc.Command.ResourceID(),
			Message:    fmt.Sprintf("%s could not be saved: %v", qc.Type(), cause),
		})
	}

	if !q.opts.RetainDeadLetters {
		if err := q.Clear(ctx, qc.ID); err != nil {
			return err
		}
	}

	res.Failed++
	q.logger.Warn("Command failed permanently",
		"tenant_id", qc.TenantID,
		"command_id", qc.ID,
		"error", cause,
	)
	return nil
}
