package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// ValidationError is returned for malformed submissions.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// TransitionError reports a batch status change outside the allowed forward
// sequence. It signals a broken invariant, not a recoverable condition.
type TransitionError struct {
	BatchID string
	From    BatchStatus
	To      BatchStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid batch status transition %s -> %s (batch %s)", e.From, e.To, e.BatchID)
}

// NotFound wraps ErrNotFound with the resource kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
