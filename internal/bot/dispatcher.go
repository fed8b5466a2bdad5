// Package bot routes inbound chat updates to the right pipeline. The
// Dispatcher owns command handling, per-user mode/model selection, the quota
// middleware in front of the two generation pipelines, and top-level panic
// containment so a misbehaving handler never takes the process down.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/history"
	"github.com/orionagi/go-ai-gateway/internal/imagegen"
	"github.com/orionagi/go-ai-gateway/internal/metrics"
	"github.com/orionagi/go-ai-gateway/internal/ratelimit"
	"github.com/orionagi/go-ai-gateway/internal/stream"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

// callback payload prefixes for the /mode keyboard
const (
	cbModelPrefix = "model:"
	cbImageMode   = "mode:image"
)

// handlerFunc is one routed update handler. Middleware wraps these.
type handlerFunc func(ctx context.Context, u transport.Update) error

// Options configures a Dispatcher.
type Options struct {
	// Models are the selectable text models shown by /mode.
	Models []ai.ModelSelector
	// DefaultModel is used for fresh sessions and unknown selections.
	DefaultModel ai.ModelSelector
	// MaxImagePromptLen is echoed in the too-long rejection message. Must
	// match the image coordinator's limit.
	MaxImagePromptLen int
}

// Dispatcher routes updates. Construct with NewDispatcher.
type Dispatcher struct {
	messenger transport.Messenger
	history   *history.Service
	stream    *stream.Coordinator
	images    *imagegen.Coordinator
	textGate  *ratelimit.Gate
	imageGate *ratelimit.Gate

	sessions     *sessionStore
	models       []ai.ModelSelector
	maxPromptLen int

	// now is swappable for tests.
	now func() time.Time
	// srcRetryWait is the pause after an update-source failure before the
	// next poll, so a down API is not hammered.
	srcRetryWait time.Duration
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(m transport.Messenger, h *history.Service, sc *stream.Coordinator,
	ic *imagegen.Coordinator, textGate, imageGate *ratelimit.Gate, opts Options) *Dispatcher {
	maxLen := opts.MaxImagePromptLen
	if maxLen <= 0 {
		maxLen = 600
	}
	return &Dispatcher{
		messenger:    m,
		history:      h,
		stream:       sc,
		images:       ic,
		textGate:     textGate,
		imageGate:    imageGate,
		sessions:     newSessionStore(opts.DefaultModel),
		models:       opts.Models,
		maxPromptLen: maxLen,
		now:          time.Now,
		srcRetryWait: 3 * time.Second,
	}
}

// Handle processes one inbound update. Panics and handler errors are
// contained here: the user gets one generic message, the process keeps going.
func (d *Dispatcher) Handle(ctx context.Context, u transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int64("chat_id", u.ChatID).Msg("handler panicked")
			d.sendText(ctx, u.ChatID, msgGenericFailure)
		}
	}()

	if err := d.route(ctx, u); err != nil {
		log.Error().Err(err).Int64("chat_id", u.ChatID).Int64("user_id", u.UserID).Msg("handler failed")
		d.sendText(ctx, u.ChatID, msgGenericFailure)
	}
}

func (d *Dispatcher) route(ctx context.Context, u transport.Update) error {
	if err := d.history.Touch(ctx, u.ChatID, u.FirstName, u.Username); err != nil {
		log.Warn().Err(err).Int64("chat_id", u.ChatID).Msg("session touch failed")
	}

	if u.IsCallback() {
		return d.handleCallback(ctx, u)
	}

	switch u.Command() {
	case "/start":
		return d.handleStart(ctx, u)
	case "/help":
		d.sendText(ctx, u.ChatID, msgHelp)
		return nil
	case "/mode":
		return d.handleMode(ctx, u)
	case "/clear":
		return d.handleClear(ctx, u)
	case "/history":
		return d.handleHistory(ctx, u)
	case "":
		// free text: route by mode through the quota middleware
	default:
		d.sendText(ctx, u.ChatID, "Unknown command. "+msgHelp)
		return nil
	}

	if strings.TrimSpace(u.Text) == "" {
		return nil
	}

	state := d.sessions.get(u.UserID)
	switch state.Mode {
	case ModeImage:
		return d.withQuota(d.imageGate, "image", "image generations", d.handleImagePrompt)(ctx, u)
	default:
		return d.withQuota(d.textGate, "text", "messages", d.handleTextPrompt)(ctx, u)
	}
}

// withQuota is the quota middleware: it consumes one action from the gate
// before the handler runs and short-circuits with the reset horizon on
// denial. Store failures log and fail open so a broken quota backend does
// not silence the bot.
func (d *Dispatcher) withQuota(gate *ratelimit.Gate, label, what string, next handlerFunc) handlerFunc {
	return func(ctx context.Context, u transport.Update) error {
		now := d.now()
		allowed, err := gate.Allow(ctx, u.UserID, now)
		if err != nil {
			log.Error().Err(err).Str("quota", label).Int64("user_id", u.UserID).Msg("quota check failed")
			allowed = true
		}
		if !allowed {
			metrics.QuotaDenials.WithLabelValues(label).Inc()
			resetAt, ok, rerr := gate.ResetAt(ctx, u.UserID)
			if rerr != nil || !ok {
				resetAt = now.Add(gate.WindowLength())
			}
			d.sendText(ctx, u.ChatID, quotaDeniedMessage(what, gate.Limit(), gate.WindowLength(), resetAt, now))
			return nil
		}
		return next(ctx, u)
	}
}

// handleTextPrompt runs the streaming pipeline for one user message.
func (d *Dispatcher) handleTextPrompt(ctx context.Context, u transport.Update) error {
	if err := d.history.RecordUserTurn(ctx, u.ChatID, u.Text); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}
	turns, err := d.history.History(ctx, u.ChatID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	state := d.sessions.get(u.UserID)
	_, err = d.stream.Run(ctx, stream.Request{
		ChatID: u.ChatID,
		Model:  state.Model,
		Turns:  turns,
	})
	if err != nil {
		return fmt.Errorf("stream response: %w", err)
	}
	return nil
}

// handleImagePrompt runs the image pipeline and reports the remaining quota.
func (d *Dispatcher) handleImagePrompt(ctx context.Context, u transport.Update) error {
	res, err := d.images.Generate(ctx, imagegen.Request{
		ChatID: u.ChatID,
		UserID: u.UserID,
		Prompt: u.Text,
	})
	if handled := d.explainImageError(ctx, u.ChatID, err); handled {
		return nil
	}
	if err != nil {
		return fmt.Errorf("generate images: %w", err)
	}

	d.sessions.setLastEnhanced(u.UserID, res.Enhanced)
	d.reportRemainingImages(ctx, u)
	return nil
}

// explainImageError converts the coordinator's validation failures into
// user-facing text. Returns true when the error was explained to the user.
func (d *Dispatcher) explainImageError(ctx context.Context, chatID int64, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, imagegen.ErrEmptyPrompt):
		d.sendText(ctx, chatID, msgEmptyImagePrompt)
	case errors.Is(err, imagegen.ErrPromptTooLong):
		d.sendText(ctx, chatID, promptTooLongMessage(d.maxPromptLen))
	case errors.Is(err, imagegen.ErrPromptRefused):
		d.sendText(ctx, chatID, "I can't generate an image for that prompt. Try describing it differently.")
	default:
		return false
	}
	return true
}

func (d *Dispatcher) reportRemainingImages(ctx context.Context, u transport.Update) {
	remaining, err := d.imageGate.Remaining(ctx, u.UserID, d.now())
	if err != nil {
		log.Warn().Err(err).Int64("user_id", u.UserID).Msg("remaining quota lookup failed")
		return
	}
	d.sendText(ctx, u.ChatID, remainingImagesMessage(remaining))
}

// handleCallback routes inline-keyboard presses: model selection, image mode,
// and regenerate. Unknown payloads reset the user to the defaults.
func (d *Dispatcher) handleCallback(ctx context.Context, u transport.Update) error {
	ack := func(text string) {
		if err := d.messenger.AnswerCallback(ctx, u.CallbackID, text, false); err != nil {
			log.Debug().Err(err).Msg("answer callback failed")
		}
	}

	switch {
	case u.CallbackData == cbImageMode:
		d.sessions.setMode(u.UserID, ModeImage)
		ack("")
		d.sendText(ctx, u.ChatID, "Image mode. Describe the picture you want.")
		return nil

	case strings.HasPrefix(u.CallbackData, cbModelPrefix):
		label := strings.TrimPrefix(u.CallbackData, cbModelPrefix)
		sel, ok := d.modelByLabel(label)
		if !ok {
			d.sessions.reset(u.UserID)
			ack("")
			d.sendText(ctx, u.ChatID, "That model is no longer available. Back to the default.")
			return nil
		}
		d.sessions.setModel(u.UserID, sel)
		ack("")
		d.sendText(ctx, u.ChatID, "Now talking to "+sel.Label()+".")
		return nil

	case u.CallbackData == imagegen.RegenerateButton:
		return d.withQuota(d.imageGate, "image", "image generations", d.handleRegenerate)(ctx, u)

	default:
		log.Warn().Str("data", u.CallbackData).Msg("unknown callback payload")
		d.sessions.reset(u.UserID)
		ack("")
		return nil
	}
}

func (d *Dispatcher) handleRegenerate(ctx context.Context, u transport.Update) error {
	ack := func(text string, alert bool) {
		if err := d.messenger.AnswerCallback(ctx, u.CallbackID, text, alert); err != nil {
			log.Debug().Err(err).Msg("answer callback failed")
		}
	}

	prompt := d.sessions.get(u.UserID).LastEnhanced
	if prompt == "" {
		// Session state is in-memory; after a restart the persisted prompt
		// ring still knows what ran last.
		stored, err := d.history.LastPrompts(ctx, u.UserID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", u.UserID).Msg("prompt ring lookup failed")
		}
		if len(stored) > 0 {
			prompt = stored[0]
			d.sessions.setLastEnhanced(u.UserID, prompt)
		}
	}
	if prompt == "" {
		ack(msgNothingToRegenerate, true)
		return nil
	}
	ack("", false)

	if _, err := d.images.Regenerate(ctx, u.ChatID, prompt); err != nil {
		return fmt.Errorf("regenerate images: %w", err)
	}
	d.reportRemainingImages(ctx, u)
	return nil
}

func (d *Dispatcher) modelByLabel(label string) (ai.ModelSelector, bool) {
	for _, m := range d.models {
		if m.Label() == label {
			return m, true
		}
	}
	return nil, false
}

func (d *Dispatcher) sendText(ctx context.Context, chatID int64, text string) {
	if _, err := d.messenger.SendMessage(ctx, chatID, text, transport.MessageOpts{}); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}
