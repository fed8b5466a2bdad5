// Package history – Service
//
// This file implements the conversation-history service sitting between the
// chat dispatcher and the persistence layer. It owns session bookkeeping
// (display metadata, auto-generated titles), turn recording under a word
// budget, the history-clear watermark, and the bounded per-user prompt ring.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the chat identifier.
package history

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/domain"
	"github.com/orionagi/go-ai-gateway/internal/repo"
)

const (
	// placeholder titles eligible for auto-generation
	defaultTitleNew      = "New chat"
	defaultTitleUntitled = "Untitled"
)

// Service coordinates history persistence for the dispatcher and the
// streaming coordinator.
type Service struct {
	DB *gorm.DB

	// MaxWords is the word budget applied to history reads and trims.
	MaxWords int
	// MaxPrompts bounds the per-user prompt ring.
	MaxPrompts int

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// Touch upserts the session row with fresh display metadata. Called on every
// inbound update so the session always reflects the latest sender profile.
func (s *Service) Touch(ctx context.Context, chatID int64, firstName, username string) error {
	return repo.UpsertSession(ctx, s.DB, chatID, firstName, username)
}

// RecordUserTurn persists a user turn and, when the session still carries a
// placeholder title, derives one from this prompt.
func (s *Service) RecordUserTurn(ctx context.Context, chatID int64, text string) error {
	tr := otel.Tracer("history/Service")
	ctx, span := tr.Start(ctx, "RecordUserTurn",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	if _, err := repo.CreateTurn(ctx, s.DB, chatID, domain.RoleUser, text); err != nil {
		return err
	}
	s.maybeAutoTitle(ctx, chatID, text)
	return s.trim(ctx, chatID)
}

// RecordAssistantTurn persists an assistant turn and trims history back under
// the word budget. Satisfies the streaming coordinator's Recorder.
func (s *Service) RecordAssistantTurn(ctx context.Context, chatID int64, text string) error {
	tr := otel.Tracer("history/Service")
	ctx, span := tr.Start(ctx, "RecordAssistantTurn",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	if _, err := repo.CreateTurn(ctx, s.DB, chatID, domain.RoleAssistant, text); err != nil {
		return err
	}
	return s.trim(ctx, chatID)
}

// History returns the visible conversation as backend turns, oldest first,
// within the word budget.
func (s *Service) History(ctx context.Context, chatID int64) ([]ai.Turn, error) {
	tr := otel.Tracer("history/Service")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	cleared, err := repo.HistoryClearedAt(ctx, s.DB, chatID)
	if err != nil {
		return nil, err
	}
	rows, err := repo.ListHistory(ctx, s.DB, chatID, cleared, s.MaxWords)
	if err != nil {
		return nil, err
	}
	turns := make([]ai.Turn, len(rows))
	for i, r := range rows {
		turns[i] = ai.Turn{Role: r.Role, Content: r.Content}
	}
	return turns, nil
}

// Clear moves the history watermark to now. Turn rows stay on disk; they are
// simply no longer visible.
func (s *Service) Clear(ctx context.Context, chatID int64) error {
	tr := otel.Tracer("history/Service")
	ctx, span := tr.Start(ctx, "Clear",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	return repo.SetHistoryClearedAt(ctx, s.DB, chatID, time.Now().UTC())
}

// AddPrompt stores a prompt in the bounded per-user ring. Satisfies the image
// coordinator's PromptStore.
func (s *Service) AddPrompt(ctx context.Context, userID int64, prompt string) error {
	return repo.AddPrompt(ctx, s.DB, userID, prompt, s.maxPrompts())
}

// LastPrompts returns the user's stored prompts, most recent first.
func (s *Service) LastPrompts(ctx context.Context, userID int64) ([]string, error) {
	return repo.LastPrompts(ctx, s.DB, userID, s.maxPrompts())
}

// ClearPrompts empties the user's prompt ring.
func (s *Service) ClearPrompts(ctx context.Context, userID int64) error {
	return repo.ClearPrompts(ctx, s.DB, userID)
}

func (s *Service) maxPrompts() int {
	if s.MaxPrompts <= 0 {
		return 5
	}
	return s.MaxPrompts
}

func (s *Service) trim(ctx context.Context, chatID int64) error {
	cleared, err := repo.HistoryClearedAt(ctx, s.DB, chatID)
	if err != nil {
		return err
	}
	return repo.TrimHistory(ctx, s.DB, chatID, cleared, s.MaxWords)
}

// maybeAutoTitle replaces a placeholder session title with one derived from
// the prompt. Failures are logged and swallowed; titles are cosmetic.
func (s *Service) maybeAutoTitle(ctx context.Context, chatID int64, prompt string) {
	sess, err := repo.GetSession(ctx, s.DB, chatID)
	if err != nil {
		return
	}
	if !isPlaceholderTitle(sess.Title) {
		return
	}
	title := s.titleFromPrompt(prompt)
	if title == "" {
		return
	}
	if err := repo.UpdateSessionTitle(ctx, s.DB, chatID, title); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("auto-title failed")
	}
}

func isPlaceholderTitle(t string) bool {
	t = strings.TrimSpace(strings.ToLower(t))
	return t == "" || t == strings.ToLower(defaultTitleNew) || t == strings.ToLower(defaultTitleUntitled)
}

// titleFromPrompt derives a concise title: up to eight non-stopword tokens,
// title-cased in the configured locale, clipped to TitleMaxLen runes.
func (s *Service) titleFromPrompt(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(prompt)), -1)
	if len(toks) == 0 {
		return ""
	}
	caser := cases.Title(s.titleLocale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	title := strings.Join(out, " ")
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		title = string([]rune(title)[:max])
	}
	return title
}

func (s *Service) titleLocale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// Unicode letters with optional trailing digits.
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"please": {}, "can": {}, "you": {}, "me": {}, "my": {},
}
