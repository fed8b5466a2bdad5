// Package transport defines the messaging-transport contract the gateway
// consumes. The concrete transport (long polling, webhooks, command routing)
// lives outside this module; coordinators only depend on this narrow
// interface and on the typed transient failures it may return.
package transport

import "context"

// ChatAction is a presence hint shown to the user while work is in flight.
type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadPhoto ChatAction = "upload_photo"
)

// Button is one inline keyboard button carried on an outgoing message.
type Button struct {
	Label string
	Data  string
}

// MessageOpts carries optional send/edit parameters.
type MessageOpts struct {
	// MarkdownV2 renders the text in the transport's strict markup dialect.
	// The caller is responsible for escaping.
	MarkdownV2 bool
	// DisableLinkPreview suppresses URL previews.
	DisableLinkPreview bool
	// Buttons, when non-empty, attaches a single-row inline keyboard.
	Buttons []Button
}

// Messenger is the outbound surface of the messaging transport. Every method
// may fail with *RetryAfterError (slow down) or, for edits, ErrNotModified
// (content identical); callers must handle both per their retry policy.
type Messenger interface {
	// SendMessage posts a new message to chatID and returns its message ID.
	SendMessage(ctx context.Context, chatID int64, text string, opts MessageOpts) (int64, error)

	// EditMessage replaces the text of an existing message.
	EditMessage(ctx context.Context, chatID, messageID int64, text string, opts MessageOpts) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// SendPhoto posts a PNG image with a caption and returns its message ID.
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, opts MessageOpts) (int64, error)

	// SendChatAction signals a presence hint. Best effort.
	SendChatAction(ctx context.Context, chatID int64, action ChatAction) error

	// AnswerCallback acknowledges a button press, optionally with an alert.
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

// Update is one inbound event delivered by the transport.
type Update struct {
	ChatID    int64
	UserID    int64
	MessageID int64

	// FirstName and Username are the sender's display metadata.
	FirstName string
	Username  string

	// Text is the message body; empty for pure callback updates.
	Text string

	// CallbackID and CallbackData are set for button-press updates.
	CallbackID   string
	CallbackData string
}

// Command returns the leading slash-command of the update's text ("/mode"),
// or "" when the text is not a command.
func (u Update) Command() string {
	if len(u.Text) == 0 || u.Text[0] != '/' {
		return ""
	}
	for i := 1; i < len(u.Text); i++ {
		c := u.Text[i]
		if c == ' ' || c == '\n' {
			return u.Text[:i]
		}
		if c == '@' {
			// strip bot mention: /mode@my_bot
			return u.Text[:i]
		}
	}
	return u.Text
}

// IsCallback reports whether the update is a button press.
func (u Update) IsCallback() bool { return u.CallbackID != "" }
