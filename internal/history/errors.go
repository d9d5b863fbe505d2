package history

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict indicates a conversation already exists under the same ID
	// with a different member set.
	ErrConflict = errors.New("conversation exists with different members")
)

// TransientError wraps store or network failures that are safe to retry
// manually. The platform never retries automatically; the caller decides.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
