package model

import (
	"errors"
	"fmt"
)

// ErrNoCandidates means selection found nothing to show even after the
// full relaxation ladder. Only possible when no enabled category has items.
var ErrNoCandidates = errors.New("no candidates")

// SourceUnavailableError collapses network, timeout, HTTP-status and decode
// failures of one category fetch into a single kind.
type SourceUnavailableError struct {
	Category Category
	Cause    error
}

// SourceUnavailable wraps cause for category.
func SourceUnavailable(category Category, cause error) error {
	return &SourceUnavailableError{Category: category, Cause: cause}
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Category, e.Cause)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Cause }

// PersistenceError reports a failed read or write against the persistent store.
// The engine logs these and keeps running on in-memory state.
type PersistenceError struct {
	Op    string // "get" or "set"
	Cause error
}

// PersistenceUnavailable wraps cause for op.
func PersistenceUnavailable(op string, cause error) error {
	return &PersistenceError{Op: op, Cause: cause}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
