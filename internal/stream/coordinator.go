// Package stream implements the progressive delivery of a streamed text
// generation to a chat surface. A Coordinator consumes the backend fragment
// stream, accumulates the full response, and pushes it to the transport with
// a send-then-edit pattern: the first flush creates the chat message, every
// later flush edits it in place. Flush timing is governed by a FlushPolicy,
// transport pushback by a RetryPolicy, and the typing indicator by a
// per-response token bucket, so each concern can be tuned and tested in
// isolation.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/markdown"
	"github.com/orionagi/go-ai-gateway/internal/metrics"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

var wordRE = regexp.MustCompile(`\w+`)

// typingInterval is the minimum gap between typing hints within one response.
const typingInterval = 5 * time.Second

// Recorder persists the finished assistant turn. Implemented by the history
// service; a stub in tests.
type Recorder interface {
	RecordAssistantTurn(ctx context.Context, chatID int64, text string) error
}

// Request describes one streamed response to produce.
type Request struct {
	ChatID int64
	Model  ai.ModelSelector
	Turns  []ai.Turn
	Opts   ai.GenOpts
}

// Result reports what a finished (or partially finished) run produced.
type Result struct {
	// FullText is the complete accumulated response, before escaping.
	FullText string
	// MessageID is the chat message the response was delivered into, or 0
	// when nothing was ever sent.
	MessageID int64
}

// Coordinator drives one streamed response end to end. All dependencies are
// injected; the zero value is not usable, construct with NewCoordinator.
type Coordinator struct {
	streamer  ai.TextStreamer
	messenger transport.Messenger
	recorder  Recorder
	flush     FlushPolicy
	retry     RetryPolicy
	clock     Clock
}

// NewCoordinator wires a Coordinator with the default policies and the system
// clock. Use the With* methods to override for tests.
func NewCoordinator(s ai.TextStreamer, m transport.Messenger, r Recorder) *Coordinator {
	return &Coordinator{
		streamer:  s,
		messenger: m,
		recorder:  r,
		flush:     DefaultFlushPolicy(),
		retry:     DefaultRetryPolicy(),
		clock:     SystemClock(),
	}
}

// WithPolicies overrides the flush and retry policies.
func (c *Coordinator) WithPolicies(f FlushPolicy, r RetryPolicy) *Coordinator {
	c.flush = f
	c.retry = r
	return c
}

// WithClock overrides the clock used for flush intervals and retry waits.
func (c *Coordinator) WithClock(clk Clock) *Coordinator {
	c.clock = clk
	return c
}

// Run streams one response. It returns an error only when the backend failed
// before or during generation; transport failures are absorbed by the retry
// policy and never surface here. Whatever text accumulated is persisted as an
// assistant turn before returning, even on failure, so the conversation
// record matches what the model actually said.
func (c *Coordinator) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := otel.Tracer("gateway/stream").Start(ctx, "stream.Run")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat.id", req.ChatID))

	started := c.clock.Now()
	defer func() {
		metrics.StreamDuration.Observe(c.clock.Now().Sub(started).Seconds())
	}()

	// The typing throttle is per response: state owned by this call, driven
	// by the coordinator clock so tests control it.
	typing := rate.NewLimiter(rate.Every(typingInterval), 1)
	hintTyping := func() {
		if !typing.AllowN(c.clock.Now(), 1) {
			return
		}
		if herr := c.messenger.SendChatAction(ctx, req.ChatID, transport.ActionTyping); herr != nil {
			log.Debug().Err(herr).Int64("chat_id", req.ChatID).Msg("typing hint failed")
		}
	}
	hintTyping()

	s, err := c.streamer.StreamText(ctx, req.Model, req.Turns, req.Opts)
	if err != nil {
		return Result{}, fmt.Errorf("start generation: %w", err)
	}
	defer s.Close()

	var (
		full        string
		lastFlushed string
		lastFlushAt = started
		messageID   int64
	)

	flushNow := func() {
		kind := "edit"
		if messageID == 0 {
			kind = "create"
		}
		text := markdown.EscapeV2(full)
		opts := transport.MessageOpts{MarkdownV2: true, DisableLinkPreview: true}
		ferr := c.retry.Run(ctx, c.clock, func() error {
			if messageID == 0 {
				id, serr := c.messenger.SendMessage(ctx, req.ChatID, text, opts)
				if serr != nil {
					return serr
				}
				messageID = id
				return nil
			}
			return c.messenger.EditMessage(ctx, req.ChatID, messageID, text, opts)
		})
		switch {
		case ferr == nil:
			lastFlushed = full
			lastFlushAt = c.clock.Now()
			metrics.FlushesTotal.WithLabelValues(kind, "ok").Inc()
		case errors.Is(ferr, ErrAbandoned):
			// Text stays accumulated; the next flush carries it.
			metrics.FlushesTotal.WithLabelValues(kind, "abandoned").Inc()
		default:
			log.Warn().Err(ferr).Int64("chat_id", req.ChatID).Msg("flush interrupted")
		}
	}

	var streamErr error
	for {
		frag, rerr := s.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			streamErr = fmt.Errorf("receive fragment: %w", rerr)
			break
		}
		full += frag
		hintTyping()

		pending := full[len(lastFlushed):]
		words := len(wordRE.FindAllString(pending, -1))
		if c.flush.ShouldFlush(pending, words, c.clock.Now().Sub(lastFlushAt)) &&
			markdown.Complete(full) {
			flushNow()
		}
	}

	if streamErr == nil && lastFlushed != full && full != "" && markdown.Complete(full) {
		flushNow()
	}

	if full != "" {
		if perr := c.recorder.RecordAssistantTurn(ctx, req.ChatID, full); perr != nil {
			log.Error().Err(perr).Int64("chat_id", req.ChatID).Msg("persist assistant turn")
		}
	}

	return Result{FullText: full, MessageID: messageID}, streamErr
}
