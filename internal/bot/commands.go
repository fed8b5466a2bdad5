package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/orionagi/go-ai-gateway/internal/transport"
)

func (d *Dispatcher) handleStart(ctx context.Context, u transport.Update) error {
	d.sessions.reset(u.UserID)
	d.sendText(ctx, u.ChatID, msgWelcome)
	return nil
}

// handleMode shows the model/mode keyboard. Every configured text model gets
// a button, plus one for image generation.
func (d *Dispatcher) handleMode(ctx context.Context, u transport.Update) error {
	buttons := make([]transport.Button, 0, len(d.models)+1)
	for _, m := range d.models {
		buttons = append(buttons, transport.Button{
			Label: m.Label(),
			Data:  cbModelPrefix + m.Label(),
		})
	}
	buttons = append(buttons, transport.Button{Label: "🖼 Image generation", Data: cbImageMode})

	_, err := d.messenger.SendMessage(ctx, u.ChatID, msgModePrompt,
		transport.MessageOpts{Buttons: buttons})
	return err
}

// handleClear resets both the conversation history and the prompt ring.
func (d *Dispatcher) handleClear(ctx context.Context, u transport.Update) error {
	if err := d.history.Clear(ctx, u.ChatID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if err := d.history.ClearPrompts(ctx, u.UserID); err != nil {
		return fmt.Errorf("clear prompts: %w", err)
	}
	d.sendText(ctx, u.ChatID, msgCleared)
	return nil
}

// handleHistory lists the user's stored prompts, most recent first.
func (d *Dispatcher) handleHistory(ctx context.Context, u transport.Update) error {
	prompts, err := d.history.LastPrompts(ctx, u.UserID)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	if len(prompts) == 0 {
		d.sendText(ctx, u.ChatID, msgNoPrompts)
		return nil
	}
	var b strings.Builder
	b.WriteString("Your recent prompts:\n")
	for i, p := range prompts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	d.sendText(ctx, u.ChatID, strings.TrimRight(b.String(), "\n"))
	return nil
}
