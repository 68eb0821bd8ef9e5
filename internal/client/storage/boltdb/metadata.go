package boltdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	keyLastSync  = []byte("last_sync_unix")
	keyUsedBytes = []byte("used_bytes") // объем ключей и значений во всех коллекциях
)

var errNoMetadata = errors.New("metadata bucket not found")

// SaveLastSyncTimestamp records when the runtime last drained after a reconnect.
func (s *Storage) SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error {
	err := s.update(ctx, func(tx *bbolt.Tx) error {
		return putCounter(tx, keyLastSync, uint64(timestamp))
	})
	if err != nil {
		return fmt.Errorf("failed to save last sync timestamp: %w", err)
	}
	return nil
}

// GetLastSyncTimestamp returns 0 until the first successful reconnect.
func (s *Storage) GetLastSyncTimestamp(ctx context.Context) (int64, error) {
	var ts uint64
	err := s.view(ctx, func(tx *bbolt.Tx) (err error) {
		ts, err = readCounter(tx, keyLastSync)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get last sync timestamp: %w", err)
	}
	return int64(ts), nil
}

// SchemaVersion reports the layout version stamped on open.
func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	var v uint64
	err := s.view(ctx, func(tx *bbolt.Tx) (err error) {
		v, err = readCounter(tx, keySchemaVersion)
		return err
	})
	return int(v), err
}

func putCounter(tx *bbolt.Tx, key []byte, v uint64) error {
	meta := tx.Bucket(bucketMetadata)
	if meta == nil {
		return errNoMetadata
	}
	return meta.Put(key, binary.BigEndian.AppendUint64(nil, v))
}

// readCounter: отсутствующий или битый ключ читается как ноль
func readCounter(tx *bbolt.Tx, key []byte) (uint64, error) {
	meta := tx.Bucket(bucketMetadata)
	if meta == nil {
		return 0, errNoMetadata
	}
	raw := meta.Get(key)
	if len(raw) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}
