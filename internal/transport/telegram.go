package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramClient implements Messenger against the Telegram Bot API. Failures
// the coordinators must react to are mapped onto the package's typed errors:
// HTTP 429 with a retry_after parameter becomes *RetryAfterError, and the
// "message is not modified" edit rejection becomes ErrNotModified.
type TelegramClient struct {
	base   string
	token  string
	client *http.Client
}

// NewTelegramClient builds a client for the given bot token.
func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		base:   defaultAPIBase,
		token:  token,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

// WithBaseURL overrides the API host, used in tests.
func (t *TelegramClient) WithBaseURL(base string) *TelegramClient {
	t.base = strings.TrimRight(base, "/")
	return t
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type tgMessage struct {
	MessageID int64 `json:"message_id"`
}

// inline keyboard payload; coordinators only ever attach a single row
type tgReplyMarkup struct {
	InlineKeyboard [][]tgInlineButton `json:"inline_keyboard"`
}

type tgInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func markupFor(buttons []Button) *tgReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]tgInlineButton, len(buttons))
	for i, b := range buttons {
		row[i] = tgInlineButton{Text: b.Label, CallbackData: b.Data}
	}
	return &tgReplyMarkup{InlineKeyboard: [][]tgInlineButton{row}}
}

// call posts a JSON method call and decodes the envelope into out (when
// non-nil). Typed failures are mapped here so every method shares them.
func (t *TelegramClient) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Body, method, out)
}

func decodeEnvelope(r io.Reader, method string, out any) error {
	var env apiResponse
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if !env.OK {
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			return &RetryAfterError{After: time.Duration(env.Parameters.RetryAfter) * time.Second}
		}
		if strings.Contains(strings.ToLower(env.Description), "message is not modified") {
			return ErrNotModified
		}
		return fmt.Errorf("%s: api error %d: %s", method, env.ErrorCode, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// SendMessage implements Messenger.
func (t *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string, opts MessageOpts) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.MarkdownV2 {
		payload["parse_mode"] = "MarkdownV2"
	}
	if opts.DisableLinkPreview {
		payload["disable_web_page_preview"] = true
	}
	if m := markupFor(opts.Buttons); m != nil {
		payload["reply_markup"] = m
	}
	var msg tgMessage
	if err := t.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessage implements Messenger.
func (t *TelegramClient) EditMessage(ctx context.Context, chatID, messageID int64, text string, opts MessageOpts) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if opts.MarkdownV2 {
		payload["parse_mode"] = "MarkdownV2"
	}
	if opts.DisableLinkPreview {
		payload["disable_web_page_preview"] = true
	}
	if m := markupFor(opts.Buttons); m != nil {
		payload["reply_markup"] = m
	}
	return t.call(ctx, "editMessageText", payload, nil)
}

// DeleteMessage implements Messenger.
func (t *TelegramClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return t.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// SendChatAction implements Messenger.
func (t *TelegramClient) SendChatAction(ctx context.Context, chatID int64, action ChatAction) error {
	return t.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  string(action),
	}, nil)
}

// AnswerCallback implements Messenger.
func (t *TelegramClient) AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error {
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	if alert {
		payload["show_alert"] = true
	}
	return t.call(ctx, "answerCallbackQuery", payload, nil)
}

// SendPhoto implements Messenger. The artifact is uploaded as multipart
// form data; captions and the inline keyboard ride along as fields.
func (t *TelegramClient) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, opts MessageOpts) (int64, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return 0, err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return 0, err
		}
	}
	if m := markupFor(opts.Buttons); m != nil {
		markup, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		if err := w.WriteField("reply_markup", string(markup)); err != nil {
			return 0, err
		}
	}
	part, err := w.CreateFormFile("photo", "image.png")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(photo); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/sendPhoto", t.base, t.token), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: %w", err)
	}
	defer resp.Body.Close()

	var msg tgMessage
	if err := decodeEnvelope(resp.Body, "sendPhoto", &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// --- long polling ---

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From *tgUser `json:"from"`
	} `json:"message"`
	CallbackQuery *struct {
		ID      string  `json:"id"`
		Data    string  `json:"data"`
		From    *tgUser `json:"from"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// LongPoller is a bot.Source implementation over getUpdates.
type LongPoller struct {
	client  *TelegramClient
	timeout int // long-poll timeout in seconds

	offset int64
	queue  []Update
}

// NewLongPoller wraps client into an update source.
func NewLongPoller(client *TelegramClient) *LongPoller {
	return &LongPoller{client: client, timeout: 30}
}

// Next returns the next buffered update, polling the API when the buffer is
// empty. Blocks up to the long-poll timeout per request.
func (p *LongPoller) Next(ctx context.Context) (Update, error) {
	for len(p.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Update{}, err
		}
		var raw []tgUpdate
		err := p.client.call(ctx, "getUpdates", map[string]any{
			"offset":  p.offset,
			"timeout": p.timeout,
		}, &raw)
		if err != nil {
			return Update{}, err
		}
		for _, ru := range raw {
			if ru.UpdateID >= p.offset {
				p.offset = ru.UpdateID + 1
			}
			if u, ok := mapUpdate(ru); ok {
				p.queue = append(p.queue, u)
			}
		}
	}
	u := p.queue[0]
	p.queue = p.queue[1:]
	return u, nil
}

// mapUpdate converts the wire update into the transport-neutral form. Updates
// that carry neither text nor a callback are dropped.
func mapUpdate(ru tgUpdate) (Update, bool) {
	switch {
	case ru.Message != nil && ru.Message.From != nil:
		return Update{
			ChatID:    ru.Message.Chat.ID,
			UserID:    ru.Message.From.ID,
			MessageID: ru.Message.MessageID,
			FirstName: ru.Message.From.FirstName,
			Username:  ru.Message.From.Username,
			Text:      ru.Message.Text,
		}, true
	case ru.CallbackQuery != nil && ru.CallbackQuery.From != nil && ru.CallbackQuery.Message != nil:
		return Update{
			ChatID:       ru.CallbackQuery.Message.Chat.ID,
			UserID:       ru.CallbackQuery.From.ID,
			MessageID:    ru.CallbackQuery.Message.MessageID,
			FirstName:    ru.CallbackQuery.From.FirstName,
			Username:     ru.CallbackQuery.From.Username,
			CallbackID:   ru.CallbackQuery.ID,
			CallbackData: ru.CallbackQuery.Data,
		}, true
	default:
		return Update{}, false
	}
}
