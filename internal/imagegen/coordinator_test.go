package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/orionagi/go-ai-gateway/internal/ai"
	"github.com/orionagi/go-ai-gateway/internal/transport"
)

type instantClock struct{}

func (instantClock) Now() time.Time                              { return time.Now() }
func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// fakeImageGen pops scripted errors per call; successes return a tiny PNG.
type fakeImageGen struct {
	mu      sync.Mutex
	errs    []error
	prompts []string

	inflight int32
	maxSeen  int32
	delay    time.Duration
}

func (g *fakeImageGen) Generate(_ context.Context, prompt string) ([]byte, error) {
	cur := atomic.AddInt32(&g.inflight, 1)
	for {
		max := atomic.LoadInt32(&g.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&g.maxSeen, max, cur) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	atomic.AddInt32(&g.inflight, -1)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return nil, err
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

type fakeEnhancer struct {
	out   string
	err   error
	calls int
}

func (e *fakeEnhancer) GenerateText(context.Context, string, string) (string, error) {
	e.calls++
	return e.out, e.err
}

type sentPhoto struct {
	caption string
	buttons []transport.Button
}

type imgMessenger struct {
	mu       sync.Mutex
	messages []string
	photos   []sentPhoto
	edits    []string
	deleted  []int64
	nextID   int64
}

func (m *imgMessenger) SendMessage(_ context.Context, _ int64, text string, _ transport.MessageOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	m.nextID++
	return m.nextID, nil
}

func (m *imgMessenger) EditMessage(_ context.Context, _ int64, _ int64, text string, _ transport.MessageOpts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *imgMessenger) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *imgMessenger) SendPhoto(_ context.Context, _ int64, _ []byte, caption string, opts transport.MessageOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, sentPhoto{caption: caption, buttons: opts.Buttons})
	m.nextID++
	return m.nextID, nil
}

func (m *imgMessenger) SendChatAction(context.Context, int64, transport.ChatAction) error {
	return nil
}

func (m *imgMessenger) AnswerCallback(context.Context, string, string, bool) error { return nil }

type fakePromptStore struct {
	mu      sync.Mutex
	prompts []string
}

func (s *fakePromptStore) AddPrompt(_ context.Context, _ int64, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return nil
}

func newTestCoordinator(gen *fakeImageGen, enh ai.Generator, m *imgMessenger, ps PromptStore, permits int64, cfg Config) *Coordinator {
	return NewCoordinator(gen, enh, m, ps, semaphore.NewWeighted(permits), instantClock{}, cfg)
}

func TestGenerate_DeliversWithRegenerateButton(t *testing.T) {
	gen := &fakeImageGen{}
	enh := &fakeEnhancer{out: "a majestic cat rendered in oil paint"}
	m := &imgMessenger{}
	ps := &fakePromptStore{}
	c := newTestCoordinator(gen, enh, m, ps, 5, Config{})

	res, err := c.Generate(context.Background(), Request{ChatID: 1, UserID: 2, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Delivered != 2 || res.Requested != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Enhanced != "a majestic cat rendered in oil paint" {
		t.Fatalf("Enhanced = %q", res.Enhanced)
	}
	if len(m.photos) != 2 {
		t.Fatalf("photos = %d", len(m.photos))
	}
	if len(m.photos[0].buttons) != 0 {
		t.Fatal("only the last photo carries the button")
	}
	if len(m.photos[1].buttons) != 1 || m.photos[1].buttons[0].Data != RegenerateButton {
		t.Fatalf("last photo buttons = %+v", m.photos[1].buttons)
	}
	// Progress message was created and later removed.
	if len(m.deleted) != 1 {
		t.Fatalf("deleted = %v", m.deleted)
	}
	// Both the original and the enhanced prompt went into the ring.
	if len(ps.prompts) != 2 || ps.prompts[0] != "a cat" || ps.prompts[1] != res.Enhanced {
		t.Fatalf("stored prompts = %v", ps.prompts)
	}
	// Full delivery produces no shortfall report.
	for _, msg := range m.messages {
		if strings.Contains(msg, "successfully") {
			t.Fatalf("unexpected shortfall message %q", msg)
		}
	}
}

func TestGenerate_EnhancementFailureFallsBack(t *testing.T) {
	gen := &fakeImageGen{}
	enh := &fakeEnhancer{err: errors.New("backend down")}
	c := newTestCoordinator(gen, enh, &imgMessenger{}, nil, 5, Config{Count: 1})

	res, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Enhanced != "a cat" {
		t.Fatalf("Enhanced = %q, want original prompt", res.Enhanced)
	}
	if gen.prompts[0] != "a cat" {
		t.Fatalf("generator ran with %q", gen.prompts[0])
	}
}

func TestGenerate_LongPromptSkipsEnhancement(t *testing.T) {
	long := strings.Repeat("word ", 31)
	gen := &fakeImageGen{}
	enh := &fakeEnhancer{out: "should not be used"}
	c := newTestCoordinator(gen, enh, &imgMessenger{}, nil, 5, Config{Count: 1})

	res, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: long})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if enh.calls != 0 {
		t.Fatalf("enhancer called %d times for a long prompt", enh.calls)
	}
	if res.Enhanced != strings.TrimSpace(long) {
		t.Fatalf("Enhanced = %q", res.Enhanced)
	}
}

func TestGenerate_RefusalLaunchesNoJobs(t *testing.T) {
	gen := &fakeImageGen{}
	enh := &fakeEnhancer{out: "I'm sorry, I can't assist with that request."}
	m := &imgMessenger{}
	ps := &fakePromptStore{}
	c := newTestCoordinator(gen, enh, m, ps, 5, Config{})

	_, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: "something"})
	if !errors.Is(err, ErrPromptRefused) {
		t.Fatalf("want ErrPromptRefused, got %v", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatal("no jobs may run after a refusal")
	}
	if len(ps.prompts) != 0 {
		t.Fatal("refused prompts must not enter the ring")
	}
}

func TestGenerate_Validation(t *testing.T) {
	c := newTestCoordinator(&fakeImageGen{}, nil, &imgMessenger{}, nil, 5, Config{})

	if _, err := c.Generate(context.Background(), Request{Prompt: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("empty: %v", err)
	}
	long := strings.Repeat("x", 601)
	if _, err := c.Generate(context.Background(), Request{Prompt: long}); !errors.Is(err, ErrPromptTooLong) {
		t.Fatalf("too long: %v", err)
	}
}

func TestGenerate_PartialFailureReportsShortfall(t *testing.T) {
	gen := &fakeImageGen{errs: []error{ai.ErrConnectivity}}
	m := &imgMessenger{}
	c := newTestCoordinator(gen, nil, m, nil, 5, Config{})

	res, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Delivered != 1 {
		t.Fatalf("Delivered = %d", res.Delivered)
	}
	if len(m.photos) != 1 {
		t.Fatalf("photos = %d", len(m.photos))
	}
	found := false
	for _, msg := range m.messages {
		if msg == "Generated 1 out of 2 images successfully." {
			found = true
		}
	}
	if !found {
		t.Fatalf("shortfall message missing from %v", m.messages)
	}
}

func TestGenerate_ContentPolicyFailureMessage(t *testing.T) {
	gen := &fakeImageGen{errs: []error{ai.ErrContentPolicy, ai.ErrContentPolicy}}
	m := &imgMessenger{}
	c := newTestCoordinator(gen, nil, m, nil, 5, Config{})

	res, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Delivered != 0 || len(m.photos) != 0 {
		t.Fatalf("nothing should be delivered: %+v", res)
	}
	found := false
	for _, msg := range m.messages {
		if strings.Contains(msg, "safety filter") {
			found = true
		}
	}
	if !found {
		t.Fatalf("safety message missing from %v", m.messages)
	}
}

func TestGenerate_SemaphoreBoundsConcurrency(t *testing.T) {
	gen := &fakeImageGen{delay: 20 * time.Millisecond}
	c := newTestCoordinator(gen, nil, &imgMessenger{}, nil, 2, Config{Count: 6})

	if _, err := c.Generate(context.Background(), Request{ChatID: 1, Prompt: "a cat"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if max := atomic.LoadInt32(&gen.maxSeen); max > 2 {
		t.Fatalf("observed %d concurrent jobs, semaphore allows 2", max)
	}
}

func TestRegenerate_SkipsEnhancement(t *testing.T) {
	gen := &fakeImageGen{}
	enh := &fakeEnhancer{out: "should not be called"}
	c := newTestCoordinator(gen, enh, &imgMessenger{}, nil, 5, Config{Count: 1})

	res, err := c.Regenerate(context.Background(), 1, "stored enhanced prompt")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if enh.calls != 0 {
		t.Fatal("regenerate must not re-enhance")
	}
	if gen.prompts[0] != "stored enhanced prompt" || res.Delivered != 1 {
		t.Fatalf("ran with %q, delivered %d", gen.prompts[0], res.Delivered)
	}
}
