package telemetry

import (
	"context"
	"sync"
	"time"
)

// Notification is a user-visible message about a change that could not be saved.
type Notification struct {
	At         time.Time `json:"at"`
	TenantID   string    `json:"tenant_id"`
	CommandID  string    `json:"command_id"`
	ResourceID string    `json:"resource_id"`
	Message    string    `json:"message"`
}

// Notifier delivers notifications to the user interface.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Inbox keeps notifications in memory until they are taken.
type Inbox struct {
	items []Notification
	limit int
	mu    sync.Mutex
}

// NewInbox creates an inbox that keeps at most limit notifications.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 100
	}
	return &Inbox{limit: limit}
}

// Notify stores n, dropping the oldest notification when full.
func (i *Inbox) Notify(_ context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.items = append(i.items, n)
	if len(i.items) > i.limit {
		i.items = i.items[len(i.items)-i.limit:]
	}
}

// Take returns and removes all stored notifications.
func (i *Inbox) Take() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := i.items
	i.items = nil
	return out
}
