package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/dealsync/internal/server/storage"
)

// GetResource retrieves current state of a resource
func (s *Storage) GetResource(ctx context.Context, tenantID, key string) (*storage.Resource, error) {
	return getResource(ctx, s.db, tenantID, key)
}

// PutResource calls fn with the current state and stores the next version.
// A nil update from fn leaves the resource untouched.
func (s *Storage) PutResource(
	ctx context.Context,
	tenantID, key string,
	fn func(current *storage.Resource) (*storage.ResourceUpdate, error),
) (*storage.Resource, error) {
	var stored *storage.Resource

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getResource(ctx, tx, tenantID, key)
		if err != nil && !errors.Is(err, storage.ErrResourceNotFound) {
			return err
		}

		update, err := fn(current)
		if err != nil {
			return err
		}
		if update == nil {
			stored = current
			return nil
		}

		var baseVersion int64
		if current != nil {
			baseVersion = current.Version
		}
		next := &storage.Resource{
			TenantID:  tenantID,
			Key:       key,
			Data:      update.Data,
			Version:   baseVersion + 1,
			UpdatedAt: time.UnixMilli(s.clock.Now().UnixMilli()).UTC(),
		}

		query := `
			INSERT INTO resources (tenant_id, key, data, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, key) DO UPDATE SET
				data = excluded.data,
				version = excluded.version,
				updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, query,
			tenantID, key, []byte(next.Data), next.Version, next.UpdatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to store resource: %w", err)
		}

		if err := s.appendHistory(ctx, tx, next, baseVersion, update.Patch); err != nil {
			return err
		}

		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, storage.ErrResourceNotFound
	}

	return stored, nil
}

// appendHistory записывает патч версии и обрезает историю до historyLimit.
// Без патча история обрывается: старые шаги больше не ведут к текущей версии.
func (s *Storage) appendHistory(ctx context.Context, tx *sql.Tx, res *storage.Resource, baseVersion int64, patch []byte) error {
	if patch == nil {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM resource_history WHERE tenant_id = ? AND key = ?`,
			res.TenantID, res.Key,
		)
		if err != nil {
			return fmt.Errorf("failed to reset resource history: %w", err)
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO resource_history (tenant_id, key, version, base_version, patch, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.TenantID, res.Key, res.Version, baseVersion, patch, res.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append resource history: %w", err)
	}

	if s.historyLimit > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM resource_history WHERE tenant_id = ? AND key = ? AND version <= ?`,
			res.TenantID, res.Key, res.Version-int64(s.historyLimit),
		)
		if err != nil {
			return fmt.Errorf("failed to trim resource history: %w", err)
		}
	}

	return nil
}

// PatchesSince returns history after version since in order
func (s *Storage) PatchesSince(ctx context.Context, tenantID, key string, since int64) ([]storage.ResourcePatch, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, base_version, patch
		FROM resource_history
		WHERE tenant_id = ? AND key = ? AND version > ?
		ORDER BY version`,
		tenantID, key, since,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query resource history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patches []storage.ResourcePatch
	for rows.Next() {
		var p storage.ResourcePatch
		var raw []byte
		if err := rows.Scan(&p.Version, &p.BaseVersion, &raw); err != nil {
			return nil, false, fmt.Errorf("failed to scan resource history: %w", err)
		}
		p.Patch = raw
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate resource history: %w", err)
	}

	// Цепочка должна начинаться ровно с since и идти без пропусков
	expected := since
	for _, p := range patches {
		if p.BaseVersion != expected {
			return nil, false, nil
		}
		expected = p.Version
	}
	if len(patches) == 0 {
		return nil, false, nil
	}

	return patches, true, nil
}

func getResource(ctx context.Context, q querier, tenantID, key string) (*storage.Resource, error) {
	var (
		res       storage.Resource
		data      []byte
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, key, data, version, updated_at
		FROM resources WHERE tenant_id = ? AND key = ?`,
		tenantID, key,
	).Scan(&res.TenantID, &res.Key, &data, &res.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	res.Data = data
	res.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &res, nil
}
