// Package imagegen runs image-generation jobs for chat requests: prompt
// validation and enhancement, bounded-concurrency generation against the
// backend, a staged progress indicator, and delivery of the artifacts with a
// regenerate affordance. Concurrency across all chats is capped by one
// process-wide weighted semaphore so a burst of requests cannot stampede the
// backend.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/metrics"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

const enhanceSystemPrompt = "You improve prompts for an image generation model. " +
	"Rewrite the user's prompt in English as a single vivid, concrete description. " +
	"Reply with the rewritten prompt only, no commentary."

// Clock is the subset of time behavior the coordinator needs. Satisfied by
// stream.SystemClock() and by fakes in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// PromptStore persists prompts into the bounded per-user prompt ring.
type PromptStore interface {
	AddPrompt(ctx context.Context, userID int64, prompt string) error
}

// Config tunes one coordinator. Zero fields fall back to defaults.
type Config struct {
	// Count is how many artifacts one request produces.
	Count int
	// MaxPromptLen bounds the user prompt in characters.
	MaxPromptLen int
	// EnhanceWordLimit: prompts at or under this many words are rewritten by
	// the text backend first.
	EnhanceWordLimit int
	// ProgressSteps is the number of squares in the progress bar.
	ProgressSteps int
	// ProgressInterval is the fixed pause between progress edits. The bar
	// advances on this schedule, not on actual completion.
	ProgressInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Count <= 0 {
		c.Count = 2
	}
	if c.MaxPromptLen <= 0 {
		c.MaxPromptLen = 600
	}
	if c.EnhanceWordLimit <= 0 {
		c.EnhanceWordLimit = 30
	}
	if c.ProgressSteps <= 0 {
		c.ProgressSteps = 10
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 3 * time.Second
	}
	return c
}

// Request describes one generation request.
type Request struct {
	ChatID int64
	UserID int64
	Prompt string
}

// Result reports what a finished request produced.
type Result struct {
	// Enhanced is the prompt the jobs actually ran with. The dispatcher
	// stores it for the regenerate callback.
	Enhanced string
	// Delivered is how many artifacts reached the user.
	Delivered int
	// Requested is how many jobs were launched.
	Requested int
}

// RegenerateButton is the callback payload carried on the last delivered
// artifact.
const RegenerateButton = "regenerate"

// Coordinator runs image requests. Construct with NewCoordinator; the
// semaphore must be shared across all coordinators in the process.
type Coordinator struct {
	gen       ai.ImageGenerator
	enhancer  ai.Generator
	messenger transport.Messenger
	prompts   PromptStore
	sem       *semaphore.Weighted
	clock     Clock
	cfg       Config
}

// NewCoordinator wires a Coordinator. enhancer may be nil to disable prompt
// enhancement; prompts may be nil to disable the prompt ring.
func NewCoordinator(gen ai.ImageGenerator, enhancer ai.Generator, m transport.Messenger,
	prompts PromptStore, sem *semaphore.Weighted, clock Clock, cfg Config) *Coordinator {
	return &Coordinator{
		gen:       gen,
		enhancer:  enhancer,
		messenger: m,
		prompts:   prompts,
		sem:       sem,
		clock:     clock,
		cfg:       cfg.withDefaults(),
	}
}

// Generate runs the full pipeline: validate, enhance, generate, deliver.
// Validation failures surface as ErrEmptyPrompt / ErrPromptTooLong /
// ErrPromptRefused; the caller turns those into user-facing text. Generation
// failures are delivered to the chat directly and do not return an error.
func (c *Coordinator) Generate(ctx context.Context, req Request) (Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Result{}, ErrEmptyPrompt
	}
	if len(prompt) > c.cfg.MaxPromptLen {
		return Result{}, fmt.Errorf("%w: %d chars, limit %d", ErrPromptTooLong, len(prompt), c.cfg.MaxPromptLen)
	}

	enhanced := c.enhance(ctx, prompt)
	if isRefusal(enhanced) {
		log.Warn().Int64("user_id", req.UserID).Msg("enhancement model refused the prompt")
		return Result{}, ErrPromptRefused
	}

	if c.prompts != nil {
		if err := c.prompts.AddPrompt(ctx, req.UserID, prompt); err != nil {
			log.Error().Err(err).Int64("user_id", req.UserID).Msg("store prompt")
		}
		if enhanced != prompt {
			if err := c.prompts.AddPrompt(ctx, req.UserID, enhanced); err != nil {
				log.Error().Err(err).Int64("user_id", req.UserID).Msg("store enhanced prompt")
			}
		}
	}

	return c.run(ctx, req.ChatID, enhanced)
}

// Regenerate re-runs generation and delivery with a previously enhanced
// prompt, skipping validation and enhancement.
func (c *Coordinator) Regenerate(ctx context.Context, chatID int64, enhanced string) (Result, error) {
	if strings.TrimSpace(enhanced) == "" {
		return Result{}, ErrEmptyPrompt
	}
	return c.run(ctx, chatID, enhanced)
}

// enhance rewrites short prompts through the text backend. Any failure falls
// back to the original prompt.
func (c *Coordinator) enhance(ctx context.Context, prompt string) string {
	if c.enhancer == nil || len(strings.Fields(prompt)) > c.cfg.EnhanceWordLimit {
		return prompt
	}
	out, err := c.enhancer.GenerateText(ctx, enhanceSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		log.Debug().Err(err).Msg("prompt enhancement failed, using original")
		return prompt
	}
	return strings.TrimSpace(out)
}

func isRefusal(s string) bool {
	low := strings.ToLower(s)
	for _, phrase := range refusalPhrases {
		if strings.Contains(low, phrase) {
			return true
		}
	}
	return false
}

// run launches the jobs, animates progress, and delivers the results.
func (c *Coordinator) run(ctx context.Context, chatID int64, prompt string) (Result, error) {
	if err := c.messenger.SendChatAction(ctx, chatID, transport.ActionUploadPhoto); err != nil {
		log.Debug().Err(err).Msg("upload hint failed")
	}

	progressID, perr := c.messenger.SendMessage(ctx, chatID,
		progressBar(0, c.cfg.ProgressSteps), transport.MessageOpts{})
	if perr != nil {
		// Progress is cosmetic; generation proceeds without it.
		log.Warn().Err(perr).Int64("chat_id", chatID).Msg("progress message failed")
		progressID = 0
	}

	done := make(chan struct{})
	progressStopped := make(chan struct{})
	go func() {
		defer close(progressStopped)
		c.animateProgress(ctx, chatID, progressID, done)
	}()

	artifacts := make([][]byte, c.cfg.Count)
	jobErrs := make([]error, c.cfg.Count)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Count; i++ {
		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				jobErrs[i] = err
				return nil
			}
			defer c.sem.Release(1)

			metrics.ImageJobsInflight.Inc()
			defer metrics.ImageJobsInflight.Dec()

			art, err := c.gen.Generate(gctx, prompt)
			if err != nil {
				jobErrs[i] = err
				metrics.ImageJobsTotal.WithLabelValues(outcomeLabel(err)).Inc()
				return nil
			}
			artifacts[i] = art
			metrics.ImageJobsTotal.WithLabelValues("ok").Inc()
			return nil
		})
	}
	g.Wait() // job errors are collected, never propagated
	close(done)
	<-progressStopped

	if progressID != 0 {
		if err := c.messenger.DeleteMessage(ctx, chatID, progressID); err != nil {
			log.Debug().Err(err).Msg("delete progress message")
		}
	}

	return c.deliver(ctx, chatID, prompt, artifacts, jobErrs)
}

// animateProgress edits the progress message on a fixed schedule until the
// jobs finish. The bar position reflects elapsed time, not real completion.
func (c *Coordinator) animateProgress(ctx context.Context, chatID, progressID int64, done <-chan struct{}) {
	if progressID == 0 {
		return
	}
	for step := 1; step < c.cfg.ProgressSteps; step++ {
		if err := c.clock.Sleep(ctx, c.cfg.ProgressInterval); err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}
		err := c.messenger.EditMessage(ctx, chatID, progressID,
			progressBar(step, c.cfg.ProgressSteps), transport.MessageOpts{})
		if err != nil && !errors.Is(err, transport.ErrNotModified) {
			log.Debug().Err(err).Msg("progress edit failed")
		}
	}
	<-done
}

// deliver sends successful artifacts in ordinal order, attaches the
// regenerate button to the last one, and reports shortfalls.
func (c *Coordinator) deliver(ctx context.Context, chatID int64, prompt string,
	artifacts [][]byte, jobErrs []error) (Result, error) {

	var ok []int
	for i, art := range artifacts {
		if art != nil {
			ok = append(ok, i)
		}
	}

	if len(ok) == 0 {
		c.sendText(ctx, chatID, failureMessage(jobErrs))
		return Result{Enhanced: prompt, Delivered: 0, Requested: c.cfg.Count}, nil
	}

	delivered := 0
	for n, i := range ok {
		var opts transport.MessageOpts
		if n == len(ok)-1 {
			opts.Buttons = []transport.Button{{Label: "🔄 Regenerate", Data: RegenerateButton}}
		}
		if _, err := c.messenger.SendPhoto(ctx, chatID, artifacts[i], prompt, opts); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Msg("send photo")
			continue
		}
		delivered++
	}

	if delivered < c.cfg.Count {
		c.sendText(ctx, chatID,
			fmt.Sprintf("Generated %d out of %d images successfully.", delivered, c.cfg.Count))
	}

	return Result{Enhanced: prompt, Delivered: delivered, Requested: c.cfg.Count}, nil
}

func (c *Coordinator) sendText(ctx context.Context, chatID int64, text string) {
	if _, err := c.messenger.SendMessage(ctx, chatID, text, transport.MessageOpts{}); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ai.ErrContentPolicy):
		return "content_policy"
	case errors.Is(err, ai.ErrInvalidPrompt):
		return "invalid"
	default:
		return "connectivity"
	}
}

// failureMessage picks the user-facing text for a fully failed request,
// preferring the most specific cause present.
func failureMessage(jobErrs []error) string {
	for _, err := range jobErrs {
		if errors.Is(err, ai.ErrContentPolicy) {
			return "The image request was rejected by the safety filter. Try a different prompt."
		}
	}
	for _, err := range jobErrs {
		if errors.Is(err, ai.ErrInvalidPrompt) {
			return "That prompt can't be used for image generation. Try rephrasing it."
		}
	}
	return "Image generation is temporarily unavailable. Please try again in a minute."
}
