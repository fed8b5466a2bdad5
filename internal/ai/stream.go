package ai

import "context"

// Turn is one conversation message handed to a text backend.
type Turn struct {
	Role    string
	Content string
}

// GenOpts carries the sampling parameters for one generation call.
type GenOpts struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

// TextStreamer produces a lazy fragment sequence for a conversation.
type TextStreamer interface {
	// StreamText starts a generation and returns the fragment stream.
	// An error here means the backend refused the request before producing
	// any content.
	StreamText(ctx context.Context, sel ModelSelector, turns []Turn, opts GenOpts) (*TextStream, error)
}

// Generator is the one-shot text capability, used for prompt enhancement
// where streaming would be pointless.
type Generator interface {
	// GenerateText returns the full completion for a system+user prompt pair.
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TextStream is a lazy sequence of text fragments. Recv returns io.EOF after
// the final fragment; any other error means the stream failed mid-flight.
type TextStream struct {
	recv  func() (string, error)
	close func() error
}

// NewTextStream wraps recv/close functions into a TextStream. close may be nil.
func NewTextStream(recv func() (string, error), close func() error) *TextStream {
	return &TextStream{recv: recv, close: close}
}

// Recv returns the next fragment, or io.EOF at the natural end of the stream.
func (s *TextStream) Recv() (string, error) { return s.recv() }

// Close releases the underlying connection. Safe to call after EOF.
func (s *TextStream) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
