package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/internal/server/storage"
)

const dealColumns = `id, tenant_id, title, stage, currency, owner_id, amount, version, updated_at`

// CreateDeal stores a new deal with version 1
func (s *Storage) CreateDeal(ctx context.Context, deal *models.Deal) error {
	now := s.clock.Now().UTC()

	query := `
		INSERT INTO deals (
			id, tenant_id, title, stage, currency, owner_id, amount,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		deal.ID,
		deal.TenantID,
		deal.Title,
		string(deal.Stage),
		deal.Currency,
		deal.OwnerID,
		deal.Amount,
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDealExists
		}
		return fmt.Errorf("failed to create deal: %w", err)
	}

	deal.Version = 1
	deal.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return nil
}

// GetDeal retrieves a deal of the tenant
func (s *Storage) GetDeal(ctx context.Context, tenantID, id string) (*models.Deal, error) {
	return getDeal(ctx, s.db, tenantID, id)
}

// UpdateDeal applies fn to the stored deal if its version equals baseVersion
func (s *Storage) UpdateDeal(
	ctx context.Context,
	tenantID, id string,
	baseVersion int64,
	fn func(deal *models.Deal) error,
) (*models.Deal, error) {
	var updated *models.Deal

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		deal, err := getDeal(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if deal.Version != baseVersion {
			return &storage.StaleVersionError{Current: deal.Version}
		}

		if err := fn(deal); err != nil {
			return err
		}

		// fn не может поменять идентичность сделки
		deal.ID = id
		deal.TenantID = tenantID
		deal.Version = baseVersion + 1
		deal.UpdatedAt = time.UnixMilli(s.clock.Now().UnixMilli()).UTC()

		query := `
			UPDATE deals
			SET title = ?, stage = ?, currency = ?, owner_id = ?, amount = ?,
			    version = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND version = ?
		`
		result, err := tx.ExecContext(ctx, query,
			deal.Title,
			string(deal.Stage),
			deal.Currency,
			deal.OwnerID,
			deal.Amount,
			deal.Version,
			deal.UpdatedAt.UnixMilli(),
			tenantID,
			id,
			baseVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update deal: %w", err)
		}
		if err := expectOneRow(result); err != nil {
			return err
		}

		updated = deal
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteDeal removes the deal if its version equals baseVersion
func (s *Storage) DeleteDeal(ctx context.Context, tenantID, id string, baseVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		deal, err := getDeal(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if deal.Version != baseVersion {
			return &storage.StaleVersionError{Current: deal.Version}
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM deals WHERE tenant_id = ? AND id = ? AND version = ?`,
			tenantID, id, baseVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to delete deal: %w", err)
		}
		return expectOneRow(result)
	})
}

// querier - общее для *sql.DB и *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDeal(ctx context.Context, q querier, tenantID, id string) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE tenant_id = ? AND id = ?`

	var (
		deal      models.Deal
		stage     string
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, query, tenantID, id).Scan(
		&deal.ID,
		&deal.TenantID,
		&deal.Title,
		&stage,
		&deal.Currency,
		&deal.OwnerID,
		&deal.Amount,
		&deal.Version,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	deal.Stage = models.Stage(stage)
	deal.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &deal, nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", rows)
	}
	return nil
}

// isUniqueViolation распознает нарушение PRIMARY KEY/UNIQUE в SQLite
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
