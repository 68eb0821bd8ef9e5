package boltdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/dealsync/internal/client/storage"
	"github.com/iudanet/dealsync/internal/clock"
)

// schemaVersion текущая версия раскладки бакетов.
// Обновления только добавляют бакеты, существующие никогда не удаляются.
const schemaVersion = 1

var (
	// BoltDB bucket names
	bucketAuth     = []byte("auth")
	bucketMetadata = []byte("metadata")

	keySchemaVersion = []byte("schema_version")
)

// Options configures the storage.
type Options struct {
	Logger      *slog.Logger
	Clock       clock.Clock
	MaxBytes    int64         // 0 - без ограничения
	OpenTimeout time.Duration // ожидание файловой блокировки, 0 - бесконечно
}

// Storage represents BoltDB storage implementation for client
type Storage struct {
	db        *bbolt.DB
	logger    *slog.Logger
	clock     clock.Clock
	sweepStop chan struct{}
	sweepDone chan struct{}
	open      singleflight.Group
	path      string
	opts      Options
	mu        sync.RWMutex
	closed    bool
}

// New creates an inert storage handle for the database file at dbPath.
// No IO happens until Start or the first operation.
func New(dbPath string, opts Options) *Storage {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Storage{
		path:   dbPath,
		opts:   opts,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
}

// Start opens the database file and creates missing buckets.
func (s *Storage) Start(ctx context.Context) error {
	_, err := s.ensureOpen(ctx)
	return err
}

// Close stops the sweeper and closes the database connection.
// Operations after Close return storage.ErrStorageClosed.
func (s *Storage) Close() error {
	s.stopSweeper()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	return err
}

// ensureOpen возвращает открытую БД, открывая ее при первом обращении.
// Одновременные вызовы разделяют одну попытку открытия.
func (s *Storage) ensureOpen(ctx context.Context) (*bbolt.DB, error) {
	s.mu.RLock()
	db, closed := s.db, s.closed
	s.mu.RUnlock()

	if closed {
		return nil, storage.ErrStorageClosed
	}
	if db != nil {
		return db, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := s.open.Do("open", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return nil, storage.ErrStorageClosed
		}
		if s.db != nil {
			return s.db, nil
		}

		db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: s.opts.OpenTimeout})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open boltdb: %w", storage.ErrStoreUnavailable, err)
		}

		if err := initBuckets(db, s.logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: failed to initialize buckets: %w", storage.ErrStoreUnavailable, err)
		}

		s.db = db
		s.logger.Debug("Storage opened", "path", s.path)
		return db, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*bbolt.DB), nil
}

// view выполняет read-only транзакцию
func (s *Storage) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	return translate(db.View(fn))
}

// update выполняет read-write транзакцию
func (s *Storage) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(db.Update(fn))
}

// translate приводит ошибку закрытой БД к storage.ErrStorageClosed
func translate(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return storage.ErrStorageClosed
	}
	return err
}

// initBuckets создает недостающие buckets и записывает версию схемы.
// Существующие buckets и данные не трогаются.
func initBuckets(db *bbolt.DB, logger *slog.Logger) error {
	return db.Update(func(tx *bbolt.Tx) error {
		// Создаем bucket для данных сессии
		if _, err := tx.CreateBucketIfNotExists(bucketAuth); err != nil {
			return fmt.Errorf("failed to create auth bucket: %w", err)
		}

		if _, err := tx.CreateBucketIfNotExists(bucketMetadata); err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		// По одному bucket на коллекцию
		for _, c := range storage.Collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", c, err)
			}
		}

		// Файлы без счетчика объема пересчитываем один раз
		if tx.Bucket(bucketMetadata).Get(keyUsedBytes) == nil {
			if err := putCounter(tx, keyUsedBytes, uint64(usage(tx))); err != nil {
				return fmt.Errorf("failed to save storage usage: %w", err)
			}
		}

		raw, err := readCounter(tx, keySchemaVersion)
		if err != nil {
			return err
		}
		stored := int(raw)

		switch {
		case stored > schemaVersion:
			// Файл создан более новой версией клиента: работаем с известными buckets
			logger.Warn("Database schema is newer than supported",
				"stored_version", stored,
				"supported_version", schemaVersion,
			)
			return nil
		case stored == schemaVersion:
			return nil
		}

		if err := putCounter(tx, keySchemaVersion, schemaVersion); err != nil {
			return fmt.Errorf("failed to save schema version: %w", err)
		}

		if stored > 0 {
			logger.Info("Database schema upgraded", "from", stored, "to", schemaVersion)
		}
		return nil
	})
}
