package ai

import (
	"context"
	"errors"
	"io"
	"testing"
)

// fakeProvider is a scripted Provider for chain tests.
type fakeProvider struct {
	name  string
	fail  bool
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) StreamText(_ context.Context, _ ModelSelector, _ []Turn, _ GenOpts) (*TextStream, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	done := false
	return NewTextStream(func() (string, error) {
		if done {
			return "", io.EOF
		}
		done = true
		return "from " + p.name, nil
	}, nil), nil
}

func TestFallbackStreamer_PrimaryFirst(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	backup := &fakeProvider{name: "backup"}
	f := NewFallbackStreamer(primary, backup)

	stream, err := f.StreamText(context.Background(), NamedModel{ID: "m"}, nil, GenOpts{})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	frag, _ := stream.Recv()
	if frag != "from primary" {
		t.Fatalf("got %q", frag)
	}
	if backup.calls != 0 {
		t.Fatal("backup must not be called when primary succeeds")
	}
}

func TestFallbackStreamer_FallsThroughOnRefusal(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	backup := &fakeProvider{name: "backup"}
	f := NewFallbackStreamer(primary, backup)

	stream, err := f.StreamText(context.Background(), NamedModel{ID: "m"}, nil, GenOpts{})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	frag, _ := stream.Recv()
	if frag != "from backup" {
		t.Fatalf("got %q", frag)
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d", primary.calls)
	}
}

func TestFallbackStreamer_AllFail(t *testing.T) {
	f := NewFallbackStreamer(
		&fakeProvider{name: "a", fail: true},
		&fakeProvider{name: "b", fail: true},
	)
	if _, err := f.StreamText(context.Background(), NamedModel{ID: "m"}, nil, GenOpts{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestFallbackStreamer_CompositeChainOrder(t *testing.T) {
	a := &fakeProvider{name: "a", fail: true}
	b := &fakeProvider{name: "b"}
	f := NewFallbackStreamer(b, a) // configured order b,a

	sel := CompositeModel{Name: "gpt-4o-mini", Providers: []string{"a", "b"}}
	stream, err := f.StreamText(context.Background(), sel, nil, GenOpts{})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	frag, _ := stream.Recv()
	if frag != "from b" {
		t.Fatalf("got %q", frag)
	}
	if a.calls != 1 {
		t.Fatal("composite chain must try provider a first")
	}
}

func TestImageClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"nsfw content detected", ErrContentPolicy},
		{"connection reset by peer", ErrConnectivity},
		{"something exploded", ErrConnectivity},
	}
	for _, tc := range cases {
		got := classifyBackendError(errors.New(tc.msg))
		if !errors.Is(got, tc.want) {
			t.Fatalf("classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
