package stream

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and timed waits so the flush policy and
// retry policy can be driven by a simulated clock in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SystemClock returns the real-time Clock used in production.
func SystemClock() Clock { return systemClock{} }
