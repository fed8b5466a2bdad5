package bot

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/history"
	"github.com/orionagi/go-ai-gateway/internal/imagegen"
	"github.com/orionagi/go-ai-gateway/internal/ratelimit"
	"github.com/orionagi/go-ai-gateway/internal/repo"
	"github.com/orionagi/go-ai-gateway/internal/stream"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

// recordingMessenger captures everything the dispatcher sends.
type recordingMessenger struct {
	mu       sync.Mutex
	messages []string
	photos   int
	answers  []string
	nextID   int64
}

func (m *recordingMessenger) SendMessage(_ context.Context, _ int64, text string, _ transport.MessageOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	m.nextID++
	return m.nextID, nil
}

func (m *recordingMessenger) EditMessage(_ context.Context, _ int64, _ int64, text string, _ transport.MessageOpts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return nil
}

func (m *recordingMessenger) DeleteMessage(context.Context, int64, int64) error { return nil }

func (m *recordingMessenger) SendPhoto(_ context.Context, _ int64, _ []byte, _ string, _ transport.MessageOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos++
	m.nextID++
	return m.nextID, nil
}

func (m *recordingMessenger) SendChatAction(context.Context, int64, transport.ChatAction) error {
	return nil
}

func (m *recordingMessenger) AnswerCallback(_ context.Context, _ string, text string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *recordingMessenger) lastMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

func (m *recordingMessenger) hasMessageContaining(sub string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// echoStreamer answers every request with a fixed reply and records calls.
type echoStreamer struct {
	mu     sync.Mutex
	calls  int
	models []ai.ModelSelector
}

func (s *echoStreamer) StreamText(_ context.Context, sel ai.ModelSelector, _ []ai.Turn, _ ai.GenOpts) (*ai.TextStream, error) {
	s.mu.Lock()
	s.calls++
	s.models = append(s.models, sel)
	s.mu.Unlock()
	done := false
	return ai.NewTextStream(func() (string, error) {
		if done {
			return "", io.EOF
		}
		done = true
		return "echo reply", nil
	}, nil), nil
}

type countingImageGen struct {
	mu      sync.Mutex
	calls   int
	prompts []string
}

func (g *countingImageGen) Generate(_ context.Context, prompt string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	return []byte{1}, nil
}

type instantClock struct{}

func (instantClock) Now() time.Time                                   { return time.Now() }
func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type testEnv struct {
	d      *Dispatcher
	m      *recordingMessenger
	text   *echoStreamer
	images *countingImageGen
	hist   *history.Service
}

func newEnv(t *testing.T, textLimit, imageLimit int) *testEnv {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := &recordingMessenger{}
	hist := &history.Service{DB: db, MaxWords: 2500, MaxPrompts: 5}

	streamer := &echoStreamer{}
	sc := stream.NewCoordinator(streamer, m, hist).
		WithPolicies(
			stream.FlushPolicy{MinWords: 1},
			stream.RetryPolicy{Backoff: time.Millisecond, Deadline: time.Second},
		)

	gen := &countingImageGen{}
	ic := imagegen.NewCoordinator(gen, nil, m, hist,
		semaphore.NewWeighted(5), instantClock{}, imagegen.Config{Count: 1})

	models := []ai.ModelSelector{
		ai.NamedModel{ID: "llama-70b"},
		ai.NamedModel{ID: "qwen-72b"},
		ai.CompositeModel{Name: "gpt-4o-mini", Providers: []string{"primary", "backup"}},
	}
	d := NewDispatcher(m, hist, sc, ic,
		ratelimit.NewGate(ratelimit.NewMemoryStore(), textLimit, 12*time.Hour),
		ratelimit.NewGate(ratelimit.NewMemoryStore(), imageLimit, 24*time.Hour),
		Options{Models: models, DefaultModel: models[0]})

	return &testEnv{d: d, m: m, text: streamer, images: gen, hist: hist}
}

func textUpdate(userID int64, text string) transport.Update {
	return transport.Update{ChatID: userID, UserID: userID, FirstName: "Ada", Username: "ada", Text: text}
}

func callbackUpdate(userID int64, data string) transport.Update {
	return transport.Update{ChatID: userID, UserID: userID, CallbackID: "cb1", CallbackData: data}
}

func TestHandle_TextPromptStreamsReply(t *testing.T) {
	env := newEnv(t, 10, 10)
	env.d.Handle(context.Background(), textUpdate(1, "hello"))

	if env.text.calls != 1 {
		t.Fatalf("streamer calls = %d", env.text.calls)
	}
	if !env.m.hasMessageContaining("echo reply") {
		t.Fatalf("reply not delivered: %v", env.m.messages)
	}
}

func TestHandle_TextQuotaDenies(t *testing.T) {
	env := newEnv(t, 1, 10)
	ctx := context.Background()

	env.d.Handle(ctx, textUpdate(1, "first"))
	env.d.Handle(ctx, textUpdate(1, "second"))

	if env.text.calls != 1 {
		t.Fatalf("streamer calls = %d, quota must stop the second", env.text.calls)
	}
	if !env.m.hasMessageContaining("reached the limit") {
		t.Fatalf("denial message missing: %v", env.m.messages)
	}
}

func TestHandle_ImageModeFlow(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, textUpdate(1, "a red fox in the snow"))

	if env.images.calls != 1 {
		t.Fatalf("generator calls = %d", env.images.calls)
	}
	if env.m.photos != 1 {
		t.Fatalf("photos = %d", env.m.photos)
	}
	if !env.m.hasMessageContaining("image generations left") &&
		!env.m.hasMessageContaining("image generation left") &&
		!env.m.hasMessageContaining("last image generation") {
		t.Fatalf("remaining-quota message missing: %v", env.m.messages)
	}
}

func TestHandle_RegenerateReusesStoredPrompt(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, textUpdate(1, "a lighthouse at dusk"))
	env.d.Handle(ctx, callbackUpdate(1, imagegen.RegenerateButton))

	if env.images.calls != 2 {
		t.Fatalf("generator calls = %d", env.images.calls)
	}
	if env.images.prompts[1] != env.images.prompts[0] {
		t.Fatalf("regenerate used %q, want %q", env.images.prompts[1], env.images.prompts[0])
	}
}

func TestHandle_RegenerateBlockedByQuota(t *testing.T) {
	env := newEnv(t, 10, 1)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, textUpdate(1, "a lighthouse at dusk")) // consumes the only permit
	env.d.Handle(ctx, callbackUpdate(1, imagegen.RegenerateButton))

	if env.images.calls != 1 {
		t.Fatalf("generator calls = %d, denied regenerate must not reach the backend", env.images.calls)
	}
	if !env.m.hasMessageContaining("reached the limit") {
		t.Fatalf("denial message missing: %v", env.m.messages)
	}
}

func TestHandle_RegenerateAfterRestartUsesPromptRing(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	// The dispatcher's session state is fresh, as after a restart, but the
	// prompt ring survived in the database.
	if err := env.hist.AddPrompt(ctx, 1, "a lighthouse at dusk"); err != nil {
		t.Fatalf("seed prompt ring: %v", err)
	}
	env.d.Handle(ctx, callbackUpdate(1, imagegen.RegenerateButton))

	if env.images.calls != 1 {
		t.Fatalf("generator calls = %d", env.images.calls)
	}
	if env.images.prompts[0] != "a lighthouse at dusk" {
		t.Fatalf("regenerate used %q", env.images.prompts[0])
	}
}

func TestHandle_RegenerateWithoutPriorPrompt(t *testing.T) {
	env := newEnv(t, 10, 10)
	env.d.Handle(context.Background(), callbackUpdate(1, imagegen.RegenerateButton))

	if env.images.calls != 0 {
		t.Fatalf("generator calls = %d", env.images.calls)
	}
	found := false
	for _, a := range env.m.answers {
		if strings.Contains(a, "Nothing to regenerate") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected alert, answers = %v", env.m.answers)
	}
}

func TestHandle_ModelSelection(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbModelPrefix+"gpt-4o-mini"))
	env.d.Handle(ctx, textUpdate(1, "hello"))

	if len(env.text.models) != 1 {
		t.Fatalf("streamer calls = %d", len(env.text.models))
	}
	if env.text.models[0].Label() != "gpt-4o-mini" {
		t.Fatalf("model = %q", env.text.models[0].Label())
	}
}

func TestHandle_UnknownCallbackResetsSession(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, callbackUpdate(1, "bogus:payload"))
	env.d.Handle(ctx, textUpdate(1, "hello"))

	// Back on text mode with the default model.
	if env.text.calls != 1 || env.images.calls != 0 {
		t.Fatalf("text=%d images=%d", env.text.calls, env.images.calls)
	}
	if env.text.models[0].Label() != "llama-70b" {
		t.Fatalf("model = %q", env.text.models[0].Label())
	}
}

func TestHandle_ClearAndHistoryCommands(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, textUpdate(1, "a red fox"))
	env.d.Handle(ctx, textUpdate(1, "/history"))
	if !env.m.hasMessageContaining("a red fox") {
		t.Fatalf("prompt list missing: %v", env.m.messages)
	}

	env.d.Handle(ctx, textUpdate(1, "/clear"))
	if env.m.lastMessage() != msgCleared {
		t.Fatalf("last = %q", env.m.lastMessage())
	}
	env.d.Handle(ctx, textUpdate(1, "/history"))
	if env.m.lastMessage() != msgNoPrompts {
		t.Fatalf("last = %q", env.m.lastMessage())
	}
}

func TestHandle_PanicIsContained(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	// A nil image coordinator makes the image path panic; the dispatcher
	// must answer with the generic failure instead of crashing.
	env.d.images = nil
	env.d.Handle(ctx, callbackUpdate(1, cbImageMode))
	env.d.Handle(ctx, textUpdate(1, "boom"))

	if env.m.lastMessage() != msgGenericFailure {
		t.Fatalf("last = %q", env.m.lastMessage())
	}
}

func TestHandle_StartAndHelp(t *testing.T) {
	env := newEnv(t, 10, 10)
	ctx := context.Background()

	env.d.Handle(ctx, textUpdate(1, "/start"))
	if env.m.lastMessage() != msgWelcome {
		t.Fatalf("last = %q", env.m.lastMessage())
	}
	env.d.Handle(ctx, textUpdate(1, "/help"))
	if env.m.lastMessage() != msgHelp {
		t.Fatalf("last = %q", env.m.lastMessage())
	}
}
