package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Provider is a named streaming backend that can join a fallback chain.
type Provider interface {
	TextStreamer
	Name() string
}

// FallbackStreamer tries providers in a fixed order until one accepts the
// request. A provider that fails before producing any content falls through
// to the next; a stream that fails mid-flight is NOT retried here (partial
// output has already reached the caller).
//
// For a CompositeModel selector, the model's own provider chain restricts
// and reorders the configured providers.
type FallbackStreamer struct {
	providers []Provider
}

// NewFallbackStreamer builds a chain in the given priority order.
func NewFallbackStreamer(providers ...Provider) *FallbackStreamer {
	return &FallbackStreamer{providers: providers}
}

// StreamText implements TextStreamer.
func (f *FallbackStreamer) StreamText(ctx context.Context, sel ModelSelector, turns []Turn, opts GenOpts) (*TextStream, error) {
	chain := f.chainFor(sel)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for model %q", sel.Label())
	}

	var lastErr error
	for _, p := range chain {
		stream, err := p.StreamText(ctx, sel, turns, opts)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		log.Warn().
			Str("provider", p.Name()).
			Str("model", sel.Label()).
			Err(err).
			Msg("provider refused request, falling through")
	}
	return nil, fmt.Errorf("all providers failed for model %q: %w", sel.Label(), lastErr)
}

// chainFor resolves the provider order for a selector. Named models use the
// configured priority order; composite models use their own chain, skipping
// provider names this streamer does not know.
func (f *FallbackStreamer) chainFor(sel ModelSelector) []Provider {
	m, ok := sel.(CompositeModel)
	if !ok || len(m.Providers) == 0 {
		return f.providers
	}
	byName := make(map[string]Provider, len(f.providers))
	for _, p := range f.providers {
		byName[p.Name()] = p
	}
	chain := make([]Provider, 0, len(m.Providers))
	for _, name := range m.Providers {
		if p, ok := byName[name]; ok {
			chain = append(chain, p)
		}
	}
	return chain
}
