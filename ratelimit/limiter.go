// Package ratelimit implements fixed-window admission control keyed by
// caller identity. The window state lives behind Store: MemoryStore limits
// per process, RedisStore shares one counter across instances.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"verifychain/models"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Hour
)

// ErrInvalidConfig is returned by New for a non-positive limit or window.
var ErrInvalidConfig = errors.New("ratelimit: limit and window must be positive")

// Window is the per-identity counter after a hit.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store records hits. Hit must perform read-check-increment as one atomic
// step: the first hit for a key, or the first after now > ResetAt, starts a
// new window with Count 1 and ResetAt now+window.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// RetryAfter is the time left until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter admits at most Limit requests per identity per window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// New builds a limiter over store.
func New(store Store, limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}, nil
}

// WithClock replaces the limiter clock.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Limit returns the configured cap.
func (l *Limiter) Limit() int { return l.limit }

// Now reads the limiter clock.
func (l *Limiter) Now() time.Time { return l.now() }

// Check records one request for id and decides whether it is admitted.
func (l *Limiter) Check(ctx context.Context, id models.Identity) (Decision, error) {
	w, err := l.store.Hit(ctx, string(id), l.now(), l.window)
	if err != nil {
		return Decision{}, err
	}
	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.Count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
	}, nil
}
