// Package broadcast delivers coordination messages between runtime contexts:
// several runtimes in one process (Bus) or several processes sharing a
// directory (DirChannel).
package broadcast

import (
	"context"
	"errors"
	"time"
)

// MessageKind identifies the purpose of a message.
type MessageKind string

const (
	// KindSessionEnded is sent when the user logs out or the session expires.
	// Receivers drop all tenant-scoped cached data.
	KindSessionEnded MessageKind = "session_ended"
	// KindCacheInvalidated is sent when records matching Pattern changed.
	KindCacheInvalidated MessageKind = "cache_invalidated"
)

// Message is a typed coordination message.
type Message struct {
	At       time.Time   `json:"at"`
	Kind     MessageKind `json:"kind"`
	TenantID string      `json:"tenant_id,omitempty"`
	Pattern  string      `json:"pattern,omitempty"` // шаблон ключей кэша для KindCacheInvalidated
	Origin   string      `json:"origin"`            // идентификатор отправителя
}

// Handler receives messages. It runs on a delivery goroutine and must not block for long.
type Handler func(Message)

// Channel is a publish/subscribe transport for Messages.
type Channel interface {
	// Publish sends msg to subscribers of other contexts. It never blocks on slow subscribers.
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn Handler) (unsubscribe func())
	// Close stops delivery and releases resources.
	Close() error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcast channel is closed")
