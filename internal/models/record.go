package models

import (
	"encoding/json"
	"time"
)

// CacheRecord is the unit stored in every Persistent Store collection.
type CacheRecord struct {
	CreatedAt time.Time       `json:"created_at"`           // CreatedAt время первой записи
	ExpiresAt *time.Time      `json:"expires_at,omitempty"` // ExpiresAt nil - запись бессрочная
	ID        string          `json:"id"`                   // ID ключ записи в коллекции
	TenantID  string          `json:"tenant_id,omitempty"`  // TenantID владелец записи
	Value     json.RawMessage `json:"value"`                // Value сериализованное значение
}

// Expired reports whether the record's TTL has passed at now.
func (r *CacheRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Decode unmarshals the record value into v.
func (r *CacheRecord) Decode(v any) error {
	return json.Unmarshal(r.Value, v)
}
