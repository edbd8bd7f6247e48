/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. NotFound - referenced employee/category/policy/entry absent, or owned by
     another tenant. Surfaced to the caller, never retried.
  2. InvalidEntry - malformed input or an attempt to write a derived field.
     Rejects the whole mutation, nothing is persisted.
  3. ConcurrentModification - two writers raced on the same ledger. Retried
     by re-enqueueing, never surfaced to HTTP callers.
  4. CascadeFailure - recomputing a descendant failed. The entry stays
     pending and is retried.

USAGE:
  if errors.Is(err, generic.ErrInvalidEntry) {
      // 422
  }
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist for the
	// caller's tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEntry is returned when a mutation is rejected by validation.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrConcurrentModification is returned when optimistic locking detects a
	// conflict or a ledger lock is held by another worker.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrCascadeFailure is returned when a descendant recomputation fails.
	ErrCascadeFailure = errors.New("cascade recomputation failed")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. Expected for scheduler re-runs.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "employee", "category", "policy", "entry", "assignment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound is shorthand for &NotFoundError{...}.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidEntryError describes a rejected mutation.
type InvalidEntryError struct {
	Field  string
	Reason string
}

func (e *InvalidEntryError) Error() string {
	if e.Field == "" {
		return "invalid entry: " + e.Reason
	}
	return fmt.Sprintf("invalid entry: %s: %s", e.Field, e.Reason)
}

func (e *InvalidEntryError) Unwrap() error { return ErrInvalidEntry }

// Invalid is shorthand for &InvalidEntryError{...}.
func Invalid(field, reason string) error {
	return &InvalidEntryError{Field: field, Reason: reason}
}

// CascadeError records which entry could not be recomputed.
type CascadeError struct {
	Key     LedgerKey
	EntryID EntryID
	Err     error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade %s entry %s: %v", e.Key, e.EntryID, e.Err)
}

func (e *CascadeError) Unwrap() []error { return []error{ErrCascadeFailure, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrCascadeFailure)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
