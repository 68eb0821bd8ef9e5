package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is an in-process Channel. Messages are delivered asynchronously via
// buffered per-subscriber channels; when a subscriber's buffer is full the
// message is dropped for that subscriber.
type Bus struct {
	subscribers map[uint64]chan Message
	origin      string
	bufferSize  int
	nextID      uint64
	mu          sync.RWMutex
	closed      bool
}

// NewBus creates a bus with the given buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[uint64]chan Message),
		origin:      uuid.NewString(),
		bufferSize:  bufferSize,
	}
}

// Origin returns the identifier stamped on messages without one.
func (b *Bus) Origin() string { return b.origin }

// Subscribe registers fn. Panics in fn are recovered.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	ch := make(chan Message, b.bufferSize)

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	go func() {
		for msg := range ch {
			deliver(fn, msg)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
}

// Publish delivers msg to every subscriber without blocking.
func (b *Bus) Publish(_ context.Context, msg Message) error {
	if msg.Origin == "" {
		msg.Origin = b.origin
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Буфер подписчика заполнен, сообщение для него теряется
		}
	}
	return nil
}

// Close closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}

// deliver вызывает обработчик, перехватывая панику
func deliver(fn Handler, msg Message) {
	defer func() {
		_ = recover()
	}()
	fn(msg)
}
