// Package ratelimit implements the per-user quota gates. A Gate applies a
// fixed-window check-and-consume rule over a pluggable Store; the process
// runs two independent instances (text-message quota and image quota) with
// independently configured backing stores.
//
// The transport's own edit-rate limit is deliberately NOT a Gate: it arrives
// as retry-after failures and is handled by the stream coordinator's retry
// policy.
package ratelimit

import (
	"context"
	"time"
)

// Window is the fixed-window state a Store keeps per key.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store persists one quota kind's per-key window records. Implementations
// must make CheckAndConsume atomic per key.
type Store interface {
	// CheckAndConsume applies the window rule at the given instant:
	// missing record or expired window -> reset to {1, now+window}, allow;
	// inside the window -> increment and allow iff count < limit, else deny
	// with the record unchanged.
	CheckAndConsume(ctx context.Context, key int64, now time.Time, limit int, window time.Duration) (bool, error)

	// Peek returns the current window for key without consuming.
	// ok is false when no record exists.
	Peek(ctx context.Context, key int64) (w Window, ok bool, err error)
}

// Gate binds a Store to one quota kind's limit and window.
type Gate struct {
	store  Store
	limit  int
	window time.Duration
}

// NewGate builds a Gate enforcing limit actions per window over store.
func NewGate(store Store, limit int, window time.Duration) *Gate {
	return &Gate{store: store, limit: limit, window: window}
}

// Allow consumes one action for key at instant now and reports whether it is
// permitted. Both outcomes may mutate persisted state; callers must not
// assume idempotence on retry.
func (g *Gate) Allow(ctx context.Context, key int64, now time.Time) (bool, error) {
	return g.store.CheckAndConsume(ctx, key, now, g.limit, g.window)
}

// ResetAt returns when key's current window expires. ok is false when the
// key has no active record.
func (g *Gate) ResetAt(ctx context.Context, key int64) (time.Time, bool, error) {
	w, ok, err := g.store.Peek(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return w.ResetAt, true, nil
}

// Remaining reports how many actions key may still take in the current
// window. A missing or expired record counts as a full fresh allowance.
func (g *Gate) Remaining(ctx context.Context, key int64, now time.Time) (int, error) {
	w, ok, err := g.store.Peek(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || now.After(w.ResetAt) {
		return g.limit, nil
	}
	left := g.limit - w.Count
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Limit returns the configured per-window maximum.
func (g *Gate) Limit() int { return g.limit }

// WindowLength returns the configured window duration.
func (g *Gate) WindowLength() time.Duration { return g.window }
