// Package core wires the memory subsystem together: storage, tiered store,
// extraction pipeline, retrieval engine, budgeting, and caches behind one
// Service handle.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable indicates that an external capability
	// (embedding, language generation, storage) is down. Request paths
	// degrade to empty results or dropped writes instead of surfacing it.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrQuotaExceeded indicates the owner's plan quota is exhausted.
	// Quotas are enforced upstream; the core still functions with zero
	// budget and returns empty context.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrConversationNotFound indicates an unknown conversation reference.
	ErrConversationNotFound = errors.New("conversation not found")
)

// MemoryError wraps errors with operation context.
//
// Error() returns "recall: <Op>: <Err>", and Unwrap exposes the underlying
// error to errors.Is and errors.As.
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a MemoryError wrapping err, or nil when err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}
