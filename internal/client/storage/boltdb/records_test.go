package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/clock"
	"github.com/iudanet/dealsync/internal/models"
)

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	deal := models.Deal{ID: "d1", Title: "Acme", Stage: models.StageLead, Amount: 500}
	err := store.Set(ctx, storage.CollectionDeals, "d1", deal, storage.SetOptions{TenantID: "t1"})
	require.NoError(t, err)

	rec, err := store.Get(ctx, storage.CollectionDeals, "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", rec.ID)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Nil(t, rec.ExpiresAt)

	var got models.Deal
	require.NoError(t, rec.Decode(&got))
	assert.Equal(t, deal, got)
}

func TestSet_RawJSON(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionPipeline, "p", json.RawMessage(`{"stages":3}`), storage.SetOptions{}))
	rec, err := store.Get(ctx, storage.CollectionPipeline, "p")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stages":3}`, string(rec.Value))

	err = store.Set(ctx, storage.CollectionPipeline, "bad", []byte("{not json"), storage.SetOptions{})
	assert.Error(t, err)
}

func TestGet_Errors(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	tests := []struct {
		wantErr    error
		name       string
		collection storage.Collection
		key        string
	}{
		{name: "absent key", collection: storage.CollectionDeals, key: "missing", wantErr: storage.ErrRecordNotFound},
		{name: "unknown collection", collection: "contacts", key: "x", wantErr: storage.ErrUnknownCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Get(ctx, tt.collection, tt.key)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	store, cleanup := createTestStorage(t, Options{Clock: clk})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionAnalytics, "report", map[string]int{"won": 3}, storage.SetOptions{TTL: 100 * time.Millisecond}))
	require.NoError(t, store.Set(ctx, storage.CollectionAnalytics, "forever", 1, storage.SetOptions{}))

	clk.Advance(50 * time.Millisecond)
	_, err := store.Get(ctx, storage.CollectionAnalytics, "report")
	require.NoError(t, err)

	clk.Advance(100 * time.Millisecond)
	_, err = store.Get(ctx, storage.CollectionAnalytics, "report")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	// Просроченная запись удалена физически
	used, err := store.Usage(ctx)
	require.NoError(t, err)
	all, err := store.GetAll(ctx, storage.CollectionAnalytics, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "forever", all[0].ID)
	assert.Positive(t, used)
}

func TestGetAll_TenantFilterAndPurge(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	store, cleanup := createTestStorage(t, Options{Clock: clk})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "a", 1, storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "b", 2, storage.SetOptions{TenantID: "t2"}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "c", 3, storage.SetOptions{TenantID: "t1", TTL: time.Second}))

	t1, err := store.GetAll(ctx, storage.CollectionDeals, "t1")
	require.NoError(t, err)
	require.Len(t, t1, 2)
	assert.Equal(t, "a", t1[0].ID)
	assert.Equal(t, "c", t1[1].ID)

	clk.Advance(time.Second)

	all, err := store.GetAll(ctx, storage.CollectionDeals, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed, "GetAll should already have purged the expired record")
}

func TestDeleteAndDeleteMany(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, storage.CollectionDeals, k, k, storage.SetOptions{}))
	}

	require.NoError(t, store.Delete(ctx, storage.CollectionDeals, "a"))
	// Удаление отсутствующей записи не ошибка
	require.NoError(t, store.Delete(ctx, storage.CollectionDeals, "a"))

	require.NoError(t, store.DeleteMany(ctx, storage.CollectionDeals, []string{"b", "c", "zzz"}))

	all, err := store.GetAll(ctx, storage.CollectionDeals, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "a", 1, storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "b", 2, storage.SetOptions{TenantID: "t2"}))
	require.NoError(t, store.Set(ctx, storage.CollectionPipeline, "p", 3, storage.SetOptions{TenantID: "t1"}))

	require.NoError(t, store.Clear(ctx, storage.CollectionDeals, "t1"))
	all, err := store.GetAll(ctx, storage.CollectionDeals, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	require.NoError(t, store.Clear(ctx, storage.CollectionDeals, ""))
	all, err = store.GetAll(ctx, storage.CollectionDeals, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	// Другие коллекции не затронуты
	_, err = store.Get(ctx, storage.CollectionPipeline, "p")
	assert.NoError(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionOfflineQueue, "q1", map[string]int{"attempts": 0}, storage.SetOptions{TenantID: "t1"}))

	err := store.Update(ctx, storage.CollectionOfflineQueue, "q1", func(rec *models.CacheRecord) error {
		rec.Value = json.RawMessage(`{"attempts":1}`)
		return nil
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, storage.CollectionOfflineQueue, "q1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"attempts":1}`, string(rec.Value))
	assert.Equal(t, "t1", rec.TenantID)

	// Ошибка fn откатывает транзакцию
	boom := errors.New("boom")
	err = store.Update(ctx, storage.CollectionOfflineQueue, "q1", func(rec *models.CacheRecord) error {
		rec.Value = json.RawMessage(`{"attempts":99}`)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err = store.Get(ctx, storage.CollectionOfflineQueue, "q1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"attempts":1}`, string(rec.Value))

	err = store.Update(ctx, storage.CollectionOfflineQueue, "missing", func(*models.CacheRecord) error { return nil })
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestUpdate_Expired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	store, cleanup := createTestStorage(t, Options{Clock: clk})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d1", 1, storage.SetOptions{TTL: time.Second}))
	clk.Advance(time.Second)

	called := false
	err := store.Update(ctx, storage.CollectionDeals, "d1", func(*models.CacheRecord) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	assert.False(t, called)

	used, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	// tmp ~300 байт, d1 и d2 ~260 байт каждая
	store, cleanup := createTestStorage(t, Options{Clock: clk, MaxBytes: 700})
	defer cleanup()

	big := strings.Repeat("x", 200)

	require.NoError(t, store.Set(ctx, storage.CollectionAnalytics, "tmp", big, storage.SetOptions{TTL: time.Second}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d1", big, storage.SetOptions{}))

	// Третья запись не помещается, а просроченных пока нет
	err := store.Set(ctx, storage.CollectionDeals, "d2", big, storage.SetOptions{})
	require.ErrorIs(t, err, storage.ErrQuotaExceeded)
	_, err = store.Get(ctx, storage.CollectionDeals, "d2")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound, "failed write must leave no partial record")

	// После истечения tmp запись освобождает место и повторная попытка проходит
	clk.Advance(2 * time.Second)
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d2", big, storage.SetOptions{}))

	_, err = store.Get(ctx, storage.CollectionAnalytics, "tmp")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	// Перезапись существующего ключа учитывает освобождаемое место
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d1", big, storage.SetOptions{}))

	used, err := store.Usage(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, used, int64(700))
}

func TestSet_Validation(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	err := store.Set(ctx, "contacts", "x", 1, storage.SetOptions{})
	assert.ErrorIs(t, err, storage.ErrUnknownCollection)

	err = store.Set(ctx, storage.CollectionDeals, "", 1, storage.SetOptions{})
	assert.Error(t, err)

	err = store.Set(ctx, storage.CollectionDeals, "ch", make(chan int), storage.SetOptions{})
	assert.Error(t, err)
}

func recount(t *testing.T, store *Storage) int64 {
	t.Helper()
	var total int64
	require.NoError(t, store.db.View(func(tx *bbolt.Tx) error {
		total = usage(tx)
		return nil
	}))
	return total
}

func TestUsage_TracksWrites(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name  string
		apply func(ctx context.Context, s *Storage) error
	}{
		{
			name: "overwrite",
			apply: func(ctx context.Context, s *Storage) error {
				return s.Set(ctx, storage.CollectionDeals, "a", strings.Repeat("y", 40), storage.SetOptions{TenantID: "t1"})
			},
		},
		{
			name: "delete many",
			apply: func(ctx context.Context, s *Storage) error {
				return s.DeleteMany(ctx, storage.CollectionDeals, []string{"b", "missing"})
			},
		},
		{
			name: "update",
			apply: func(ctx context.Context, s *Storage) error {
				return s.Update(ctx, storage.CollectionOfflineQueue, "q1", func(rec *models.CacheRecord) error {
					rec.Value = json.RawMessage(`{"attempts":12345}`)
					return nil
				})
			},
		},
		{
			name: "clear tenant",
			apply: func(ctx context.Context, s *Storage) error {
				return s.Clear(ctx, storage.CollectionPipeline, "t2")
			},
		},
		{
			name: "clear collection",
			apply: func(ctx context.Context, s *Storage) error {
				return s.Clear(ctx, storage.CollectionSyncSnapshots, "")
			},
		},
		{
			name: "sweep",
			apply: func(ctx context.Context, s *Storage) error {
				clk.Advance(time.Hour)
				_, err := s.Sweep(ctx)
				return err
			},
		},
	}

	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{Clock: clk, MaxBytes: 1 << 20})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "a", "first", storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "b", "second", storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionOfflineQueue, "q1", map[string]int{"attempts": 0}, storage.SetOptions{}))
	require.NoError(t, store.Set(ctx, storage.CollectionPipeline, "p1", 1, storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionPipeline, "p2", 2, storage.SetOptions{TenantID: "t2"}))
	require.NoError(t, store.Set(ctx, storage.CollectionSyncSnapshots, "s1", "snap", storage.SetOptions{}))
	require.NoError(t, store.Set(ctx, storage.CollectionAnalytics, "r1", 3, storage.SetOptions{TTL: time.Minute}))

	used, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, recount(t, store), used)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.apply(ctx, store))

			used, err := store.Usage(ctx)
			require.NoError(t, err)
			assert.Equal(t, recount(t, store), used)
		})
	}
}

func TestUsage_RecountedOnOpen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	store := New(dbPath, Options{})
	require.NoError(t, store.Start(ctx))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d1", "payload", storage.SetOptions{}))

	// Файл без счетчика, как до его появления
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMetadata).Delete(keyUsedBytes)
	}))
	require.NoError(t, store.Close())

	reopened := New(dbPath, Options{})
	require.NoError(t, reopened.Start(ctx))
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	used, err := reopened.Usage(ctx)
	require.NoError(t, err)
	assert.Positive(t, used)
	assert.Equal(t, recount(t, reopened), used)
}

func TestGetAll_SkipsUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "a", 1, storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "c", 3, storage.SetOptions{TenantID: "t1"}))
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(storage.CollectionDeals)).Put([]byte("b"), []byte("{not json"))
	}))

	all, err := store.GetAll(ctx, storage.CollectionDeals, "t1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[1].ID)
}
