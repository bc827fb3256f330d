// Package ratelimit counts requests per client in a sliding window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds requests to Limit per Window for one endpoint group.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Default policies.
var (
	Checkout = Policy{Name: "checkout", Limit: 10, Window: time.Minute}
	Download = Policy{Name: "download", Limit: 30, Window: time.Minute}
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set when the request was denied.
	RetryAfter time.Duration
}

// Store records hits. A hit is recorded only if it is allowed, so denied
// requests do not extend a client's lockout.
type Store interface {
	Take(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (allowed bool, count int, oldest time.Time, err error)
}

// Limiter applies policies on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock returns a copy of l using now as its time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	return &Limiter{store: l.store, now: now}
}

// Allow records a request for client under p.
func (l *Limiter) Allow(ctx context.Context, p Policy, client string) (Decision, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return Decision{}, errors.New("ratelimit: invalid policy")
	}
	if client == "" {
		client = "unknown"
	}
	now := l.now()
	allowed, count, oldest, err := l.store.Take(ctx, p.Name+":"+client, now, p.Limit, p.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit %s: %w", p.Name, err)
	}
	d := Decision{Allowed: allowed, Remaining: max(p.Limit-count, 0)}
	if !allowed {
		d.RetryAfter = max(oldest.Add(p.Window).Sub(now), time.Second)
	}
	return d, nil
}
