// Package resilience classifies failed calls and retries them with
// exponential backoff through an explicit state machine.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is wrapped around the last error once MaxAttempts is used up.
var ErrRetriesExhausted = eris.New("retries exhausted")

// State is a position in the retry state machine.
type State int

const (
	// StatePending means the next attempt has not run yet.
	StatePending State = iota
	// StateWaiting means the last attempt failed retryably and a backoff is due.
	StateWaiting
	// StateSucceeded is terminal: an attempt returned no error.
	StateSucceeded
	// StateExhausted is terminal: every attempt failed retryably.
	StateExhausted
	// StateAborted is terminal: an attempt failed permanently.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateAborted
}

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Non-zero jitter gives up monotonic delays.
	JitterFraction float64

	// ShouldRetry optionally overrides the default classification.
	// If nil, IsRetryable is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// Sleep replaces the context-aware timer wait. Tests use it to observe delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

// Machine tracks one retried operation. It is not safe for concurrent use;
// each task owns its own Machine.
type Machine struct {
	cfg     RetryConfig
	state   State
	attempt int
	lastErr error
	delays  []time.Duration
}

// NewMachine returns a Machine in StatePending.
func NewMachine(cfg RetryConfig) *Machine {
	return &Machine{cfg: applyDefaults(cfg)}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempts returns how many outcomes have been observed.
func (m *Machine) Attempts() int { return m.attempt }

// Delays returns the backoff delays computed so far, in order.
func (m *Machine) Delays() []time.Duration {
	out := make([]time.Duration, len(m.delays))
	copy(out, m.delays)
	return out
}

// Err returns the last observed error. Once exhausted it wraps ErrRetriesExhausted.
func (m *Machine) Err() error { return m.lastErr }

// Observe records the outcome of an attempt and transitions the machine.
func (m *Machine) Observe(err error) State {
	if m.state.Terminal() {
		return m.state
	}
	m.attempt++

	if err == nil {
		m.lastErr = nil
		m.state = StateSucceeded
		return m.state
	}

	shouldRetry := m.cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	switch {
	case !shouldRetry(err):
		m.lastErr = err
		m.state = StateAborted
	case m.attempt >= m.cfg.MaxAttempts:
		m.lastErr = eris.Wrapf(ErrRetriesExhausted, "%v", err)
		m.state = StateExhausted
	default:
		m.lastErr = err
		m.state = StateWaiting
	}
	return m.state
}

// Wait sleeps for the next backoff and moves the machine back to pending.
// A cancelled context leaves the machine waiting and returns the context error.
func (m *Machine) Wait(ctx context.Context) error {
	if m.state != StateWaiting {
		return eris.Errorf("resilience: wait called in state %s", m.state)
	}
	if m.cfg.OnRetry != nil {
		m.cfg.OnRetry(m.attempt, m.lastErr)
	}

	delay := computeBackoff(m.attempt-1, m.cfg)
	m.delays = append(m.delays, delay)

	sleep := m.cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if err := sleep(ctx, delay); err != nil {
		return err
	}
	m.state = StatePending
	return nil
}

// Do executes fn with retry logic according to cfg.
// Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	val, m := Run(ctx, cfg, fn)
	return val, m.Err()
}

// Run drives a Machine until it reaches a terminal state or ctx is done, and
// returns the machine so callers can inspect attempts and delays.
func Run[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, *Machine) {
	m := NewMachine(cfg)

	var zero T
	for {
		val, err := fn(ctx)
		switch m.Observe(err) {
		case StateSucceeded:
			return val, m
		case StateExhausted, StateAborted:
			return zero, m
		}

		if ctx.Err() != nil {
			m.lastErr = eris.Wrap(ctx.Err(), m.lastErr.Error())
			m.state = StateAborted
			return zero, m
		}

		if werr := m.Wait(ctx); werr != nil {
			m.lastErr = eris.Wrap(werr, m.lastErr.Error())
			m.state = StateAborted
			return zero, m
		}
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return sleepCtx(ctx, d)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
