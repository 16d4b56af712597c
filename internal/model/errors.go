package model

import (
	"errors"
	"fmt"
)

// ConfigurationError aborts startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigurationError.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigurationError.
func IsConfigError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// TransientFailure wraps an error returned by one attempt of an operation.
type TransientFailure struct {
	Kind    OperationKind
	Attempt int
	Err     error
}

func (e *TransientFailure) Error() string {
	return fmt.Sprintf("%s attempt %d: %v", e.Kind, e.Attempt, e.Err)
}

func (e *TransientFailure) Unwrap() error { return e.Err }

var (
	// ErrAttemptTimeout marks an attempt that did not finish within its budget.
	ErrAttemptTimeout = errors.New("attempt timed out")
	// ErrRetriesExhausted marks a terminal failed outcome.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrPersist marks a failed schedule write; the write is retried next cycle.
	ErrPersist = errors.New("persist schedule state")
	// ErrNoState is returned by stores with nothing persisted yet.
	ErrNoState = errors.New("no persisted schedule state")
	// ErrCorruptState is returned by stores holding unreadable state.
	ErrCorruptState = errors.New("corrupt schedule state")
)
