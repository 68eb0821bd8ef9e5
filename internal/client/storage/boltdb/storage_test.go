package boltdb

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/clock"
)

// createTestStorage создает открытое хранилище во временной директории
func createTestStorage(t *testing.T, opts Options) (*Storage, func()) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "testdb.db")

	store := New(dbPath, opts)
	require.NoError(t, store.Start(context.Background()))

	cleanup := func() {
		require.NoError(t, store.Close())
	}

	return store, cleanup
}

func TestNew_IsInert(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	store := New(dbPath, Options{})
	require.NotNil(t, store)

	// До первого обращения файл не создается
	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Start(context.Background()))
	defer func() {
		require.NoError(t, store.Close())
	}()

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestStart_CreatesBuckets(t *testing.T) {
	store, cleanup := createTestStorage(t, Options{})
	defer cleanup()

	err := store.db.View(func(tx *bbolt.Tx) error {
		names := [][]byte{bucketAuth, bucketMetadata}
		for _, c := range storage.Collections {
			names = append(names, []byte(c))
		}
		for _, b := range names {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	require.NoError(t, err)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestFirstUseOpensLazily(t *testing.T) {
	ctx := context.Background()
	store := New(filepath.Join(t.TempDir(), "lazy.db"), Options{})
	defer func() {
		require.NoError(t, store.Close())
	}()

	require.NoError(t, store.Set(ctx, storage.CollectionDeals, "d1", map[string]any{"title": "Acme"}, storage.SetOptions{}))

	rec, err := store.Get(ctx, storage.CollectionDeals, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Acme"}`, string(rec.Value))
}

func TestStart_ConcurrentOpenersShareHandle(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "race.db"), Options{})
	defer func() {
		require.NoError(t, store.Close())
	}()

	const openers = 20
	var wg sync.WaitGroup
	handles := make([]*bbolt.DB, openers)
	errs := make([]error, openers)

	for i := range openers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = store.ensureOpen(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range openers {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0], handles[i])
	}
}

func TestStart_LockedFileIsUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "locked.db")

	first := New(dbPath, Options{})
	require.NoError(t, first.Start(context.Background()))
	defer func() {
		require.NoError(t, first.Close())
	}()

	second := New(dbPath, Options{OpenTimeout: 50 * time.Millisecond})
	err := second.Start(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Nil(t, second.db)
}

func TestStart_InvalidPath(t *testing.T) {
	store := New(string([]byte{0}), Options{})
	err := store.Start(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	store, _ := createTestStorage(t, Options{})

	require.NoError(t, store.Close())
	assert.Nil(t, store.db)

	// Второй вызов Close не должен падать
	assert.NoError(t, store.Close())

	// После закрытия все операции возвращают ErrStorageClosed
	err := store.Set(ctx, storage.CollectionDeals, "d1", 1, storage.SetOptions{})
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.Get(ctx, storage.CollectionDeals, "d1")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	assert.ErrorIs(t, store.Start(ctx), storage.ErrStorageClosed)
}

func TestInitBuckets_AdditiveUpgrade(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	// Файл старой версии: только deals с данными и без версии схемы
	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket([]byte(storage.CollectionDeals))
		if err != nil {
			return err
		}
		return b.Put([]byte("d1"), []byte(`{"id":"d1","value":{"title":"kept"},"created_at":"2026-01-01T00:00:00Z"}`))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	store := New(dbPath, Options{})
	require.NoError(t, store.Start(ctx))
	defer func() {
		require.NoError(t, store.Close())
	}()

	rec, err := store.Get(ctx, storage.CollectionDeals, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"kept"}`, string(rec.Value))

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)
}

func TestInitBuckets_NewerSchemaKept(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "new.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket(bucketMetadata)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(schemaVersion+1))
		return b.Put(keySchemaVersion, buf)
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	store := New(dbPath, Options{})
	require.NoError(t, store.Start(ctx))
	defer func() {
		require.NoError(t, store.Close())
	}()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion+1, version)
}

func TestSweeper_RemovesExpired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Now())
	store, cleanup := createTestStorage(t, Options{Clock: clk})
	defer cleanup()

	require.NoError(t, store.Set(ctx, storage.CollectionAnalytics, "a1", 1, storage.SetOptions{TTL: time.Second}))
	clk.Advance(2 * time.Second)

	store.StartSweeper(10 * time.Millisecond)
	defer store.Stop()

	assert.Eventually(t, func() bool {
		used, err := store.Usage(ctx)
		return err == nil && used == 0
	}, time.Second, 10*time.Millisecond)
}
