package stream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orionagi/go-ai-gateway/internal/metrics"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

// FlushPolicy decides when the accumulated response text is worth pushing to
// the chat surface. A flush is proposed when enough new material has arrived
// or enough time has passed, and is then gated separately on markup
// well-formedness by the coordinator.
type FlushPolicy struct {
	// MinWords triggers a flush once at least this many words are pending.
	MinWords int
	// MinBytes triggers a flush once the pending text reaches this size.
	MinBytes int
	// MaxInterval triggers a flush when this much time passed since the
	// last successful flush, regardless of pending volume.
	MaxInterval time.Duration
}

// DefaultFlushPolicy matches the thresholds the bot has always shipped with.
func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{MinWords: 200, MinBytes: 200, MaxInterval: 5 * time.Second}
}

// ShouldFlush reports whether the pending buffer warrants a flush. pending is
// the text accumulated since the last successful flush, pendingWords its word
// count, and sinceLast the time elapsed since the last successful flush.
func (p FlushPolicy) ShouldFlush(pending string, pendingWords int, sinceLast time.Duration) bool {
	if pending == "" {
		return false
	}
	if p.MinWords > 0 && pendingWords >= p.MinWords {
		return true
	}
	if p.MinBytes > 0 && len(pending) >= p.MinBytes {
		return true
	}
	if p.MaxInterval > 0 && sinceLast >= p.MaxInterval {
		return true
	}
	return false
}

// RetryPolicy governs how a single flush operation is retried against the
// transport. Rate-limit pushback is always honored and never counts toward
// the abandon deadline; any other failure is retried on a fixed backoff until
// the deadline runs out.
type RetryPolicy struct {
	// Backoff is the pause between attempts after a generic failure.
	Backoff time.Duration
	// Deadline bounds the total time spent on generic failures before the
	// operation is abandoned.
	Deadline time.Duration
}

// DefaultRetryPolicy pauses 5s between generic failures and gives up after
// 60s of them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: 5 * time.Second, Deadline: 60 * time.Second}
}

// ErrAbandoned is returned by Run when the deadline elapsed without success.
// The caller keeps its pending text and folds it into the next flush.
var ErrAbandoned = transportAbandoned{}

type transportAbandoned struct{}

func (transportAbandoned) Error() string { return "flush abandoned after retry deadline" }

// Run executes op until it succeeds, the context is cancelled, or the
// generic-failure deadline elapses.
//
//   - transport.RetryAfterError: sleep the advised duration and retry; the
//     wait does not consume the deadline.
//   - transport.ErrNotModified: treated as success.
//   - anything else: sleep Backoff and retry until Deadline has passed since
//     the first generic failure, then return ErrAbandoned.
func (p RetryPolicy) Run(ctx context.Context, clock Clock, op func() error) error {
	var deadline time.Time
	for {
		err := op()
		if err == nil || errors.Is(err, transport.ErrNotModified) {
			return nil
		}
		if ra, ok := transport.AsRetryAfter(err); ok {
			metrics.FlushRetries.Inc()
			log.Debug().Dur("retry_after", ra.After).Msg("transport asked to slow down")
			if serr := clock.Sleep(ctx, ra.After); serr != nil {
				return serr
			}
			continue
		}
		now := clock.Now()
		if deadline.IsZero() {
			deadline = now.Add(p.Deadline)
		} else if now.After(deadline) {
			log.Warn().Err(err).Msg("abandoning flush after retry deadline")
			return ErrAbandoned
		}
		metrics.FlushRetries.Inc()
		log.Debug().Err(err).Dur("backoff", p.Backoff).Msg("flush failed, backing off")
		if serr := clock.Sleep(ctx, p.Backoff); serr != nil {
			return serr
		}
	}
}
