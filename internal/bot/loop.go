package bot

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orionagi/go-ai-gateway/internal/transport"
)

// Source delivers inbound updates, typically via transport long polling.
type Source interface {
	// Next blocks until an update arrives or ctx is cancelled.
	Next(ctx context.Context) (transport.Update, error)
}

// Run consumes updates from src until ctx is cancelled. Each update is
// handled on its own goroutine so a slow generation never blocks other
// chats; per-user ordering is not guaranteed and is not needed.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	for {
		u, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("update source failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.srcRetryWait):
			}
			continue
		}
		go d.Handle(ctx, u)
	}
}
