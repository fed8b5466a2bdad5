package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Typed generation failures. The image coordinator maps these onto distinct
// user-facing messages; anything unclassified surfaces as connectivity.
var (
	// ErrContentPolicy marks output rejected by the backend's content policy.
	ErrContentPolicy = errors.New("content policy rejection")

	// ErrConnectivity marks transient backend or network failure.
	ErrConnectivity = errors.New("backend connectivity failure")

	// ErrInvalidPrompt marks input the backend cannot work with.
	ErrInvalidPrompt = errors.New("invalid prompt")
)

// classifyBackendError wraps a raw backend error into one of the typed
// failures by matching its text. String matching is deliberate: the upstream
// services expose failure kinds only through message text.
func classifyBackendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nsfw"):
		return fmt.Errorf("%w: %s", ErrContentPolicy, err)
	case strings.Contains(msg, "connection"):
		return fmt.Errorf("%w: %s", ErrConnectivity, err)
	default:
		return fmt.Errorf("%w: %s", ErrConnectivity, err)
	}
}
