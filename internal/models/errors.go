// Package models defines the error taxonomy shared by the engine and its callers.
package models

import "fmt"

// NotFoundError indicates that an instruction or module id is not present in
// its registry. When raised for a user's current cursor it signals a corrupted
// or stale cursor and is fatal for the turn; it is never retried.
type NotFoundError struct {
	Kind string // "instruction" or "module"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConflictError indicates that the optimistic state write lost the race after
// the bounded retry budget was exhausted. The caller may resubmit the same
// message; the retried turn re-reads state rather than replaying blindly.
type ConflictError struct {
	UserID   string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state write for user %q lost optimistic race after %d attempts", e.UserID, e.Attempts)
}

// CollaboratorError wraps a failure from a downstream collaborator (matcher,
// fulfillment action, completion hook, intent lookup, or store access). The
// turn aborts without partial state mutation.
type CollaboratorError struct {
	Step   string // failing step, e.g. "state read", "fulfillment", "completion hook"
	UserID string
	Err    error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator failure at %s for user %q: %v", e.Step, e.UserID, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ValidationError indicates malformed input rejected before any read.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
