package retry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/clock"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	HalfOpenMaxCalls int
	ResetTimeout     time.Duration
	CallTimeout      time.Duration
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenMaxCalls: 1,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// BreakerState is a point-in-time view of a breaker.
type BreakerState struct {
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
	Name          string    `json:"name"`
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	SuccessCount  int       `json:"success_count"`
}

// StateChangeFunc is called after every breaker transition.
type StateChangeFunc func(name string, from, to State)

// BreakerOptions carries the breaker collaborators.
type BreakerOptions struct {
	Clock         clock.Clock
	Sink          telemetry.Sink
	Logger        *slog.Logger
	OnStateChange StateChangeFunc
}

// Breaker is a circuit breaker guarding one dependency.
type Breaker struct {
	nextAttemptAt time.Time
	clock         clock.Clock
	sink          telemetry.Sink
	logger        *slog.Logger
	onChange      StateChangeFunc
	name          string
	state         State
	cfg           BreakerConfig
	failures      int
	successes     int
	inFlight      int // пробные вызовы в half_open
	mu            sync.Mutex
}

type transition struct {
	from, to State
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(name string, cfg BreakerConfig, opts BreakerOptions) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Breaker{
		name:     name,
		cfg:      cfg,
		state:    StateClosed,
		clock:    opts.Clock,
		sink:     opts.Sink,
		logger:   opts.Logger,
		onChange: opts.OnStateChange,
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// CallTimeout returns the per-call outer timeout.
func (b *Breaker) CallTimeout() time.Duration { return b.cfg.CallTimeout }

// Allow reserves a call. It returns ErrCircuitOpen while the circuit is open
// or when all half-open trial slots are taken. Every nil return must be
// followed by exactly one of Success, Failure or Ignore.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var tr *transition

	switch b.state {
	case StateOpen:
		if b.clock.Now().Before(b.nextAttemptAt) {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		tr = b.setState(StateHalfOpen)
		b.inFlight++
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.inFlight++
	}

	b.mu.Unlock()
	b.notify(tr)
	return nil
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	var tr *transition

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.release()
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			tr = b.setState(StateClosed)
		}
	}

	b.mu.Unlock()
	b.notify(tr)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	var tr *transition

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			tr = b.trip()
		}
	case StateHalfOpen:
		b.release()
		b.failures++
		tr = b.trip()
	}

	b.mu.Unlock()
	b.notify(tr)
}

// Ignore releases a reserved call whose outcome says nothing about the
// dependency health, e.g. a validation error.
func (b *Breaker) Ignore() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.release()
	}
	b.mu.Unlock()
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BreakerState{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		SuccessCount: b.successes,
	}
	if b.state == StateOpen {
		st.NextAttemptAt = b.nextAttemptAt
	}
	return st
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.setState(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	b.notify(tr)
}

func (b *Breaker) trip() *transition {
	b.nextAttemptAt = b.clock.Now().Add(b.cfg.ResetTimeout)
	return b.setState(StateOpen)
}

func (b *Breaker) release() {
	if b.inFlight > 0 {
		b.inFlight--
	}
}

// setState меняет состояние под блокировкой; при смене счетчики обнуляются
func (b *Breaker) setState(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}

	b.state = to
	b.successes = 0
	b.inFlight = 0
	if to != StateOpen {
		b.failures = 0
		b.nextAttemptAt = time.Time{}
	}
	return &transition{from: from, to: to}
}

// notify вызывается без блокировки
func (b *Breaker) notify(tr *transition) {
	if tr == nil {
		return
	}

	b.logger.Info("Circuit breaker state changed",
		"breaker", b.name,
		"from", tr.from,
		"to", tr.to,
	)

	b.sink.Report(context.Background(), telemetry.Event{
		At:      b.clock.Now(),
		Kind:    telemetry.KindBreakerTransition,
		Message: "circuit breaker " + b.name + " is " + string(tr.to),
		Attributes: map[string]any{
			"breaker": b.name,
			"from":    string(tr.from),
			"to":      string(tr.to),
		},
	})

	if b.onChange != nil {
		b.onChange(b.name, tr.from, tr.to)
	}
}
