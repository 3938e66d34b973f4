// Package rate implements the fixed-window rate limiting primitive shared by
// every throttle in the engine. Policy math lives in Limiter; the counters
// themselves live behind CounterStore so the process-local default can be
// swapped for a shared Redis deployment without touching policy logic.
package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLimited is returned by CheckPolicy when the window budget is spent.
	ErrLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps counter store failures.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// NoActiveWindow is the TTL sentinel for keys with no live window.
const NoActiveWindow = time.Duration(-1)

// CounterStore is the atomic increment primitive behind the limiter.
// Hit must open a fresh window {count=1, start=now} when the key is missing
// or its window has elapsed, and increment otherwise.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Reset(ctx context.Context, key string) error
}

// Policy names one throttle scope and its budget.
type Policy struct {
	Scope  string
	Max    int
	Window time.Duration
}

// Key derives the counter key for one identity under this policy.
func (p Policy) Key(identity string) string {
	return p.Scope + ":" + identity
}

// Limiter evaluates policies against a CounterStore.
type Limiter struct {
	store CounterStore
}

// NewLimiter wraps a counter store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// IsExceeded records a hit for key and reports whether the window budget is
// now exceeded. The first max hits in a window return false; every hit after
// that returns true until the window elapses and the counter resets.
func (l *Limiter) IsExceeded(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	count, err := l.store.Hit(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count > int64(max), nil
}

// Remaining returns max minus the current count, clamped at zero. A missing
// counter reports the full budget.
func (l *Limiter) Remaining(ctx context.Context, key string, max int) (int, error) {
	count, err := l.store.Count(ctx, key)
	if err != nil {
		return 0, err
	}
	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}

// TTL returns the time until the key's window resets, or NoActiveWindow.
func (l *Limiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return l.store.TTL(ctx, key)
}

// Reset clears the counter immediately. Administrative/test override.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// CheckPolicy is the common call sites use: hit the policy counter for
// identity and translate an exceeded budget into ErrLimited. The error never
// discloses the configured threshold or the retry horizon.
func (l *Limiter) CheckPolicy(ctx context.Context, p Policy, identity string) error {
	if p.Max <= 0 || identity == "" {
		return nil
	}
	exceeded, err := l.IsExceeded(ctx, p.Key(identity), p.Max, p.Window)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrLimited
	}
	return nil
}

// ResetPolicy clears the counter for one identity under a policy.
func (l *Limiter) ResetPolicy(ctx context.Context, p Policy, identity string) error {
	return l.Reset(ctx, p.Key(identity))
}
