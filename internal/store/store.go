// Package store provides storage backends for ChatFlow dialogue state.
//
// The StateStore contract is the engine's serialization mechanism for
// concurrent same-user turns: CompareAndSetState applies a write only when the
// stored version still equals the version read at turn start, so of two racing
// turns exactly one commits and the loser retries from a fresh read. Backends
// are selected by DSN in the cmd bootstrap: in-memory, SQLite, PostgreSQL, or
// Redis.
package store

import (
	"context"

	"github.com/BTreeMap/ChatFlow/internal/models"
)

// StateStore is the durable per-user cursor with atomic read and conditional
// write, plus answer capture.
type StateStore interface {
	// GetState retrieves the state for a user, or nil when the user has never
	// interacted (first contact).
	GetState(ctx context.Context, userID string) (*models.State, error)

	// CompareAndSetState persists next iff the stored version still equals
	// expected.Version. An expected.Version of 0 means "insert if absent".
	// Returns false on a stale read; the caller re-reads and retries.
	CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error)

	// DeleteState removes a user's state. Administrative reset; the next turn
	// re-seeds the entry cursor.
	DeleteState(ctx context.Context, userID string) error

	// AddAnswer records an answer captured by instruction fulfillment.
	AddAnswer(ctx context.Context, a models.Answer) error

	// ListAnswers returns a user's captured answers in insertion order.
	ListAnswers(ctx context.Context, userID string) ([]models.Answer, error)

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string // backend connection string (file path, postgres:// or redis:// URL)
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}
