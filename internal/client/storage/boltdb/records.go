package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/models"
)

// Set creates or replaces a record.
// When the quota is exceeded expired records are pruned and the write is retried once.
func (s *Storage) Set(ctx context.Context, collection storage.Collection, key string, value any, opts storage.SetOptions) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	if key == "" {
		return fmt.Errorf("record key cannot be empty")
	}

	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	rec := &models.CacheRecord{
		ID:        key,
		Value:     raw,
		CreatedAt: now,
		TenantID:  opts.TenantID,
	}
	if opts.TTL > 0 {
		expiresAt := now.Add(opts.TTL)
		rec.ExpiresAt = &expiresAt
	}

	// Сериализуем запись в JSON
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	put := func(tx *bbolt.Tx) error {
		return s.put(tx, collection, []byte(key), data)
	}

	err = s.update(ctx, put)
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		return err
	}

	pruned, sweepErr := s.Sweep(ctx)
	if sweepErr != nil {
		return fmt.Errorf("failed to prune expired records: %w", sweepErr)
	}
	s.logger.Warn("Storage quota reached, pruned expired records",
		"collection", collection,
		"pruned", pruned,
	)

	return s.update(ctx, put)
}

// Get returns a live record. Expired records are removed on read.
func (s *Storage) Get(ctx context.Context, collection storage.Collection, key string) (*models.CacheRecord, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	var rec *models.CacheRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", collection)
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	if rec.Expired(s.clock.Now()) {
		if err := s.purgeExpired(ctx, collection, []string{key}); err != nil {
			s.logger.Warn("Failed to purge expired record", "collection", collection, "key", key, "error", err)
		}
		return nil, storage.ErrRecordNotFound
	}

	return rec, nil
}

// Delete removes a record; absent records are ignored.
func (s *Storage) Delete(ctx context.Context, collection storage.Collection, key string) error {
	return s.DeleteMany(ctx, collection, []string{key})
}

// DeleteMany removes several records in one transaction.
func (s *Storage) DeleteMany(ctx context.Context, collection storage.Collection, keys []string) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	if len(keys) == 0 {
		return nil
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", collection)
		}

		for _, key := range keys {
			if err := deleteRecord(tx, bucket, []byte(key)); err != nil {
				return fmt.Errorf("failed to delete record %q: %w", key, err)
			}
		}
		return nil
	})
}

// GetAll returns live records ordered by key; expired ones are purged.
func (s *Storage) GetAll(ctx context.Context, collection storage.Collection, tenantID string) ([]*models.CacheRecord, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	now := s.clock.Now()
	var (
		records []*models.CacheRecord
		expired []string
	)

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", collection)
		}

		return bucket.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				s.logger.Warn("Skipping unreadable record", "collection", collection, "key", string(k), "error", err)
				return nil
			}

			if rec.Expired(now) {
				expired = append(expired, string(k))
				return nil
			}

			if tenantID == "" || rec.TenantID == tenantID {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(expired) > 0 {
		if err := s.purgeExpired(ctx, collection, expired); err != nil {
			s.logger.Warn("Failed to purge expired records", "collection", collection, "count", len(expired), "error", err)
		}
	}

	return records, nil
}

// Clear removes records of the tenant, or the whole collection when tenantID is empty.
func (s *Storage) Clear(ctx context.Context, collection storage.Collection, tenantID string) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		if tenantID == "" {
			// Пересоздаем bucket целиком
			if bucket := tx.Bucket([]byte(collection)); bucket != nil {
				if err := adjustUsage(tx, -bucketUsage(bucket)); err != nil {
					return err
				}
			}
			if err := tx.DeleteBucket([]byte(collection)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("failed to clear %s bucket: %w", collection, err)
			}
			if _, err := tx.CreateBucket([]byte(collection)); err != nil {
				return fmt.Errorf("failed to recreate %s bucket: %w", collection, err)
			}
			return nil
		}

		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", collection)
		}

		// Удалять во время ForEach нельзя, сначала собираем ключи
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("record %q: %w", k, err)
			}
			if rec.TenantID == tenantID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := deleteRecord(tx, bucket, k); err != nil {
				return fmt.Errorf("failed to delete record %q: %w", k, err)
			}
		}
		return nil
	})
}

// Update performs read-modify-write of one record in a single transaction.
// An error returned by fn aborts the transaction and is returned as-is.
func (s *Storage) Update(ctx context.Context, collection storage.Collection, key string, fn func(rec *models.CacheRecord) error) error {
	if !collection.Valid() {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	now := s.clock.Now()
	expired := false

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s bucket not found", collection)
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}

		if rec.Expired(now) {
			// Удаление должно закоммититься, поэтому ошибку возвращаем после транзакции
			expired = true
			return deleteRecord(tx, bucket, []byte(key))
		}

		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = key

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		return s.put(tx, collection, []byte(key), updated)
	})
	if err != nil {
		return err
	}
	if expired {
		return storage.ErrRecordNotFound
	}

	return nil
}

// Sweep removes expired records from every collection.
func (s *Storage) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		removed = 0
		for _, c := range storage.Collections {
			bucket := tx.Bucket([]byte(c))
			if bucket == nil {
				continue
			}

			var keys [][]byte
			err := bucket.ForEach(func(k, v []byte) error {
				rec, err := decodeRecord(v)
				if err != nil {
					// Поврежденную запись оставляем, чтобы не потерять данные
					s.logger.Warn("Skipping unreadable record", "collection", c, "key", string(k), "error", err)
					return nil
				}
				if rec.Expired(now) {
					keys = append(keys, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}

			for _, k := range keys {
				if err := deleteRecord(tx, bucket, k); err != nil {
					return fmt.Errorf("failed to delete expired record %q: %w", k, err)
				}
			}
			removed += len(keys)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// Usage returns the number of key and value bytes stored in all collections.
func (s *Storage) Usage(ctx context.Context) (int64, error) {
	var used int64
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v, err := readCounter(tx, keyUsedBytes)
		used = int64(v)
		return err
	})
	return used, err
}

// purgeExpired удаляет ключи, если они все еще просрочены на момент транзакции
func (s *Storage) purgeExpired(ctx context.Context, collection storage.Collection, keys []string) error {
	now := s.clock.Now()

	return s.update(ctx, func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}

		for _, key := range keys {
			data := bucket.Get([]byte(key))
			if data == nil {
				continue
			}
			// Запись могли перезаписать между чтением и удалением
			rec, err := decodeRecord(data)
			if err != nil || !rec.Expired(now) {
				continue
			}
			if err := deleteRecord(tx, bucket, []byte(key)); err != nil {
				return fmt.Errorf("failed to delete expired record %q: %w", key, err)
			}
		}
		return nil
	})
}

// put записывает значение с проверкой квоты и обновляет счетчик объема
func (s *Storage) put(tx *bbolt.Tx, collection storage.Collection, key, data []byte) error {
	bucket := tx.Bucket([]byte(collection))
	if bucket == nil {
		return fmt.Errorf("%s bucket not found", collection)
	}

	delta := int64(len(key) + len(data))
	if prev := bucket.Get(key); prev != nil {
		delta -= int64(len(key) + len(prev))
	}

	if s.opts.MaxBytes > 0 {
		raw, err := readCounter(tx, keyUsedBytes)
		if err != nil {
			return err
		}
		used := int64(raw)
		if used+delta > s.opts.MaxBytes {
			return fmt.Errorf("%w: %d of %d bytes used", storage.ErrQuotaExceeded, used, s.opts.MaxBytes)
		}
	}

	if err := bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return adjustUsage(tx, delta)
}

// deleteRecord удаляет ключ и вычитает его размер из счетчика
func deleteRecord(tx *bbolt.Tx, bucket *bbolt.Bucket, key []byte) error {
	prev := bucket.Get(key)
	if prev == nil {
		return nil
	}
	size := int64(len(key) + len(prev))
	if err := bucket.Delete(key); err != nil {
		return err
	}
	return adjustUsage(tx, -size)
}

func adjustUsage(tx *bbolt.Tx, delta int64) error {
	if delta == 0 {
		return nil
	}
	raw, err := readCounter(tx, keyUsedBytes)
	if err != nil {
		return err
	}
	used := max(int64(raw)+delta, 0)
	return putCounter(tx, keyUsedBytes, uint64(used))
}

// usage пересчитывает объем ключей и значений во всех коллекциях.
// Размер файла bbolt не уменьшается после удаления, поэтому квота считается по данным.
func usage(tx *bbolt.Tx) int64 {
	var total int64
	for _, c := range storage.Collections {
		if bucket := tx.Bucket([]byte(c)); bucket != nil {
			total += bucketUsage(bucket)
		}
	}
	return total
}

func bucketUsage(bucket *bbolt.Bucket) int64 {
	var total int64
	_ = bucket.ForEach(func(k, v []byte) error {
		total += int64(len(k) + len(v))
		return nil
	})
	return total
}

func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("value is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("value is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return raw, nil
}

func decodeRecord(data []byte) (*models.CacheRecord, error) {
	rec := &models.CacheRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}
