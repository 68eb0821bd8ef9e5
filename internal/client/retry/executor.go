package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iudanet/dealsync/internal/client/telemetry"
	"github.com/iudanet/dealsync/internal/clock"
)

// Policy configures retries performed by an Executor.
type Policy struct {
	Backoff     Backoff
	MaxAttempts int
}

// DefaultPolicy returns 3 attempts with 200ms..10s backoff and 25% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Backoff{Base: 200 * time.Millisecond, Cap: 10 * time.Second, Jitter: 0.25},
	}
}

// Options carries Executor collaborators.
type Options struct {
	Clock         clock.Clock
	Sink          telemetry.Sink
	Logger        *slog.Logger
	IsAuthError   func(error) bool
	OnStateChange StateChangeFunc
	// Sleep waits between attempts; nil waits on a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor runs operations with retries and one circuit breaker per dependency.
type Executor struct {
	breakers   map[string]*Breaker
	opts       Options
	classifier Classifier
	policy     Policy
	breakerCfg BreakerConfig
	mu         sync.Mutex
}

// NewExecutor creates an executor. Breakers are created lazily by name.
func NewExecutor(policy Policy, breakerCfg BreakerConfig, opts Options) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
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
	if opts.Sleep == nil {
		opts.Sleep = waitWithContext
	}

	return &Executor{
		breakers:   make(map[string]*Breaker),
		opts:       opts,
		classifier: Classifier{IsAuthError: opts.IsAuthError},
		policy:     policy,
		breakerCfg: breakerCfg,
	}
}

// Classify classifies err using the executor's auth classifier.
func (e *Executor) Classify(err error) Class {
	return e.classifier.Classify(err)
}

// Breaker returns the breaker for name, creating it on first use.
func (e *Executor) Breaker(name string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.breakers[name]
	if !ok {
		b = NewBreaker(name, e.breakerCfg, BreakerOptions{
			Clock:         e.opts.Clock,
			Sink:          e.opts.Sink,
			Logger:        e.opts.Logger,
			OnStateChange: e.opts.OnStateChange,
		})
		e.breakers[name] = b
	}
	return b
}

// Breakers returns the state of every breaker sorted by name.
func (e *Executor) Breakers() []BreakerState {
	e.mu.Lock()
	list := make([]*Breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		list = append(list, b)
	}
	e.mu.Unlock()

	states := make([]BreakerState, 0, len(list))
	for _, b := range list {
		states = append(states, b.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// ResetBreakers closes every breaker, e.g. after connectivity returned.
func (e *Executor) ResetBreakers() {
	e.mu.Lock()
	list := make([]*Breaker, 0, len(e.breakers))
	for _, b := range e.breakers {
		list = append(list, b)
	}
	e.mu.Unlock()

	for _, b := range list {
		b.Reset()
	}
}

// Execute runs op through the named breaker. Retryable failures are retried
// with backoff up to the policy's attempt limit, after which an
// *ExhaustedError is returned, also when the circuit opens between retries.
// ErrCircuitOpen is returned only when op was never called.
func (e *Executor) Execute(ctx context.Context, breakerName string, op func(ctx context.Context) error) error {
	b := e.Breaker(breakerName)

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.policy.Backoff.Delay(attempt - 1)
			e.opts.Logger.Debug("Retrying operation",
				"breaker", breakerName,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := e.opts.Sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := e.attempt(ctx, b, op)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			if attempt == 0 {
				return fmt.Errorf("%s: %w", breakerName, err)
			}
			// Цепь открылась во время повторов: вызовы уже были
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
		if e.Classify(err) != ClassRetryable {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
	}

	return &ExhaustedError{Attempts: e.policy.MaxAttempts, Err: lastErr}
}

func (e *Executor) attempt(ctx context.Context, b *Breaker, op func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := callWithTimeout(ctx, b.CallTimeout(), op)
	switch {
	case err == nil:
		b.Success()
	case ctx.Err() != nil:
		// Отмена вызывающей стороной ничего не говорит о зависимости
		b.Ignore()
	case e.Classify(err) == ClassRetryable:
		b.Failure()
	default:
		b.Ignore()
	}
	return err
}

// callWithTimeout runs op under an outer timeout. When the timeout fires the
// result of op is abandoned and ErrTimeout is returned.
func callWithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return safeCall(ctx, op)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(callCtx, op)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
		}
		return err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func safeCall(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// waitWithContext ждет d или отмены контекста
func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
