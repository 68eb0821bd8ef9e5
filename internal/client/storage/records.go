package storage

import (
	"context"
	"slices"
	"time"

	"github.com/iudanet/dealsync/internal/models"
)

//go:generate moq -out recordstorage_mock.go . RecordStorage

// Collection is a named group of records (one bbolt bucket).
type Collection string

const (
	CollectionDeals         Collection = "deals"          // локальные копии сделок
	CollectionPipeline      Collection = "pipeline"       // агрегаты воронки
	CollectionAnalytics     Collection = "analytics"      // отчеты и метрики
	CollectionOfflineQueue  Collection = "offline_queue"  // очередь офлайн-команд
	CollectionSyncSnapshots Collection = "sync_snapshots" // снимки для дифференциальной синхронизации
)

// Collections lists every collection known to the store.
var Collections = []Collection{
	CollectionDeals,
	CollectionPipeline,
	CollectionAnalytics,
	CollectionOfflineQueue,
	CollectionSyncSnapshots,
}

// Valid reports whether c is a registered collection.
func (c Collection) Valid() bool {
	return slices.Contains(Collections, c)
}

// SetOptions controls how a record is written.
type SetOptions struct {
	TenantID string
	TTL      time.Duration // 0 - запись не истекает
}

// RecordStorage defines the persistent store for client records.
// Every method is atomic: it either fully applies or leaves no trace.
type RecordStorage interface {
	// Set creates or replaces a record. value is stored as JSON;
	// json.RawMessage and []byte are stored as-is.
	Set(ctx context.Context, collection Collection, key string, value any, opts SetOptions) error

	// Get returns a record. Returns ErrRecordNotFound if it is absent or expired.
	Get(ctx context.Context, collection Collection, key string) (*models.CacheRecord, error)

	// Delete removes a record. Removing an absent record is not an error.
	Delete(ctx context.Context, collection Collection, key string) error

	// DeleteMany removes several records in one transaction.
	DeleteMany(ctx context.Context, collection Collection, keys []string) error

	// GetAll returns live records of the collection ordered by key.
	// Empty tenantID returns records of every tenant.
	GetAll(ctx context.Context, collection Collection, tenantID string) ([]*models.CacheRecord, error)

	// Clear removes records of the tenant, or all records when tenantID is empty.
	Clear(ctx context.Context, collection Collection, tenantID string) error

	// Update performs read-modify-write of one record in a single transaction.
	// Returns ErrRecordNotFound if the record is absent or expired.
	Update(ctx context.Context, collection Collection, key string, fn func(rec *models.CacheRecord) error) error

	// Sweep removes expired records from every collection and returns their count.
	Sweep(ctx context.Context) (int, error)

	// Usage returns bytes counted against the quota.
	Usage(ctx context.Context) (int64, error)
}
