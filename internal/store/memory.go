// Package store provides an in-memory store for tests and single-process use.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatFlow/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed StateStore. The mutex gives the
// same conditional-write semantics as the persistent backends, so engine tests
// exercise the real CAS contract.
type InMemoryStore struct {
	mu      sync.Mutex
	states  map[string]models.State
	answers map[string][]models.Answer
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating InMemoryStore")
	return &InMemoryStore{
		states:  make(map[string]models.State),
		answers: make(map[string][]models.Answer),
	}
}

// GetState retrieves the state for a user, or nil when absent.
func (s *InMemoryStore) GetState(ctx context.Context, userID string) (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// CompareAndSetState applies next iff the stored version equals expected.Version.
func (s *InMemoryStore) CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cur, exists := s.states[next.UserID]
	if expected.Version == 0 {
		if exists {
			slog.Debug("InMemoryStore CAS insert lost race", "userID", next.UserID)
			return false, nil
		}
		next.Version = 1
		next.CreatedAt = now
		next.UpdatedAt = now
		s.states[next.UserID] = next
		return true, nil
	}

	if !exists || cur.Version != expected.Version {
		slog.Debug("InMemoryStore CAS stale read", "userID", next.UserID, "expectedVersion", expected.Version)
		return false, nil
	}
	next.Version = expected.Version + 1
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = now
	s.states[next.UserID] = next
	return true, nil
}

// DeleteState removes a user's state.
func (s *InMemoryStore) DeleteState(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

// AddAnswer records an answer.
func (s *InMemoryStore) AddAnswer(ctx context.Context, a models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[a.UserID] = append(s.answers[a.UserID], a)
	return nil
}

// ListAnswers returns a user's answers in insertion order.
func (s *InMemoryStore) ListAnswers(ctx context.Context, userID string) ([]models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Answer, len(s.answers[userID]))
	copy(out, s.answers[userID])
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
