package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestGate_AllowDenyResetCycle(t *testing.T) {
	gate := NewGate(NewMemoryStore(), 5, 24*time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		ok, err := gate.Allow(ctx, 1, now)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	if ok, _ := gate.Allow(ctx, 1, now); ok {
		t.Fatal("6th call must be denied")
	}

	// A fresh request after the reset horizon always succeeds.
	later := now.Add(24*time.Hour + time.Second)
	ok, err := gate.Allow(ctx, 1, later)
	if err != nil || !ok {
		t.Fatalf("post-reset call: ok=%v err=%v", ok, err)
	}
	w, found, _ := gate.store.Peek(ctx, 1)
	if !found || w.Count != 1 {
		t.Fatalf("count must reset to 1, got %+v found=%v", w, found)
	}
}

func TestGate_RemainingAndResetAt(t *testing.T) {
	gate := NewGate(NewMemoryStore(), 3, time.Hour)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	if left, _ := gate.Remaining(ctx, 7, now); left != 3 {
		t.Fatalf("fresh key remaining = %d, want 3", left)
	}
	if _, ok, _ := gate.ResetAt(ctx, 7); ok {
		t.Fatal("fresh key must have no reset horizon")
	}

	_, _ = gate.Allow(ctx, 7, now)
	_, _ = gate.Allow(ctx, 7, now)

	if left, _ := gate.Remaining(ctx, 7, now); left != 1 {
		t.Fatalf("remaining = %d, want 1", left)
	}
	at, ok, _ := gate.ResetAt(ctx, 7)
	if !ok || !at.Equal(now.Add(time.Hour)) {
		t.Fatalf("reset horizon = %v ok=%v", at, ok)
	}

	// Past the horizon the allowance is fresh again.
	if left, _ := gate.Remaining(ctx, 7, now.Add(2*time.Hour)); left != 3 {
		t.Fatalf("expired-window remaining = %d, want 3", left)
	}
}

func TestGate_KeysAreIndependent(t *testing.T) {
	gate := NewGate(NewMemoryStore(), 1, time.Hour)
	ctx := context.Background()
	now := time.Now()

	if ok, _ := gate.Allow(ctx, 1, now); !ok {
		t.Fatal("first key must be allowed")
	}
	if ok, _ := gate.Allow(ctx, 2, now); !ok {
		t.Fatal("second key must not be affected by the first")
	}
	if ok, _ := gate.Allow(ctx, 1, now); ok {
		t.Fatal("first key must be exhausted")
	}
}
