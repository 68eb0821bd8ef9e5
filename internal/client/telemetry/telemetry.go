// Package telemetry reports operational events to an external sink without
// ever blocking or failing the caller.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a telemetry event.
type Kind string

const (
	KindConflict          Kind = "conflict"
	KindPermanentFailure  Kind = "permanent_failure"
	KindBreakerTransition Kind = "breaker_transition"
	KindQuotaExceeded     Kind = "quota_exceeded"
)

// Event is a single telemetry record.
type Event struct {
	At         time.Time      `json:"at"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Kind       Kind           `json:"kind"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Message    string         `json:"message"`
}

// Sink accepts telemetry events. Implementations must not block.
type Sink interface {
	Report(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Report does nothing.
func (Nop) Report(context.Context, Event) {}

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogSink{logger: logger}
}

// Report logs the event at warn level for failures and info otherwise.
func (s *LogSink) Report(ctx context.Context, ev Event) {
	attrs := []any{"kind", ev.Kind}
	if ev.TenantID != "" {
		attrs = append(attrs, "tenant_id", ev.TenantID)
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	if ev.Kind == KindPermanentFailure || ev.Kind == KindQuotaExceeded {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, ev.Message, attrs...)
}

// AsyncSink forwards events to another sink on a background goroutine.
// When the buffer is full events are dropped.
type AsyncSink struct {
	next    Sink
	events  chan Event
	done    chan struct{}
	dropped uint64
	mu      sync.Mutex
	once    sync.Once
	closed  bool
}

// NewAsyncSink starts a forwarder with the given buffer size.
func NewAsyncSink(next Sink, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Report enqueues ev without blocking.
func (s *AsyncSink) Report(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped++
		return
	}

	select {
	case s.events <- ev:
	default:
		s.dropped++
	}
}

// Dropped returns how many events were discarded.
func (s *AsyncSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes buffered events and stops the forwarder.
func (s *AsyncSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.forward(ev)
	}
}

// forward не дает панике в sink остановить доставку
func (s *AsyncSink) forward(ev Event) {
	defer func() {
		_ = recover()
	}()
	s.next.Report(context.Background(), ev)
}
