package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", "test:quota")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_CheckAndConsume(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		ok, err := s.CheckAndConsume(ctx, 1, now, 5, 24*time.Hour)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if ok, _ := s.CheckAndConsume(ctx, 1, now, 5, 24*time.Hour); ok {
		t.Fatal("6th call must be denied")
	}

	w, found, err := s.Peek(ctx, 1)
	if err != nil || !found {
		t.Fatalf("Peek: found=%v err=%v", found, err)
	}
	if w.Count != 5 {
		t.Fatalf("denied call mutated count: %d", w.Count)
	}
	if !w.ResetAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("reset horizon = %v", w.ResetAt)
	}

	// The caller's clock is authoritative: advancing it past the horizon
	// resets the window without touching redis TTLs.
	later := now.Add(24*time.Hour + time.Minute)
	ok, err := s.CheckAndConsume(ctx, 1, later, 5, 24*time.Hour)
	if err != nil || !ok {
		t.Fatalf("post-reset call: ok=%v err=%v", ok, err)
	}
	w, _, _ = s.Peek(ctx, 1)
	if w.Count != 1 {
		t.Fatalf("count must reset to 1, got %d", w.Count)
	}
}

func TestRedisStore_PeekMissingKey(t *testing.T) {
	s := newRedisStore(t)
	_, found, err := s.Peek(context.Background(), 404)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if found {
		t.Fatal("missing key must report found=false")
	}
}
