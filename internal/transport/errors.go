package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotModified is returned by EditMessage when the new text is identical
// to the current one. Callers treat it as success.
var ErrNotModified = errors.New("message is not modified")

// RetryAfterError is the transport's slow-down signal: the operation was
// rejected and may be retried after the given duration.
type RetryAfterError struct {
	After time.Duration
}

// Error implements the error interface.
func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.After)
}

// AsRetryAfter unwraps err into a *RetryAfterError if it is one.
func AsRetryAfter(err error) (*RetryAfterError, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra, true
	}
	return nil, false
}
