package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/redraft/core"
)

// InMemoryStore is a volatile Store implementation keeping sessions in a
// process local map. It is safe for concurrent access and best suited for
// tests or single-run tools. Returned records and turns are cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	turns    map[string][]core.ExchangeTurn
	now      func() time.Time
}

// Compile time check to ensure InMemoryStore satisfies the Store interface.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Record),
		turns:    make(map[string][]core.ExchangeTurn),
		now:      time.Now,
	}
}

// CreateSession stores a new record in core.StatusCreated. An existing record
// with the same id is overwritten.
func (s *InMemoryStore) CreateSession(_ context.Context, cfg core.SessionConfig, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sessions[cfg.SessionID] = &Record{
		Config:          cfg.Clone(),
		UserID:          userID,
		Status:          core.StatusCreated,
		WorkingDocument: cfg.WorkingDocument,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.turns[cfg.SessionID] = nil

	return nil
}

// UpdateStatus transitions the lifecycle status, stamping CompletedAt for
// terminal statuses.
func (s *InMemoryStore) UpdateStatus(_ context.Context, sessionID string, status core.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}

	rec.Status = status
	rec.UpdatedAt = s.now()
	if reason != "" {
		rec.TerminationReason = reason
	}
	if status.Terminal() {
		t := s.now()
		rec.CompletedAt = &t
	}

	return nil
}

// AppendTurn records a cloned turn and rolls the credit total forward.
func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, turn core.ExchangeTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}

	s.turns[sessionID] = append(s.turns[sessionID], turn.Clone())
	rec.TotalCreditsUsed += turn.CreditsUsed
	rec.UpdatedAt = s.now()

	return nil
}

// UpdateWorkingDocument stores the latest document snapshot.
func (s *InMemoryStore) UpdateWorkingDocument(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}

	rec.WorkingDocument = text
	rec.UpdatedAt = s.now()

	return nil
}

// UpdateRound stores the current round counter.
func (s *InMemoryStore) UpdateRound(_ context.Context, sessionID string, round int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}

	rec.CurrentRound = round
	rec.UpdatedAt = s.now()

	return nil
}

// GetSession returns a clone of the stored record.
func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}

	return rec.Clone(), nil
}

// ListTurns returns clones of the session's turns ordered by turn number.
// Parallel editor turns are appended in completion order, so storage order is
// not numbering order.
func (s *InMemoryStore) ListTurns(_ context.Context, sessionID string) ([]core.ExchangeTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, core.ErrSessionNotFound
	}

	history := s.turns[sessionID]
	out := make([]core.ExchangeTurn, len(history))
	for i, t := range history {
		out[i] = t.Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnNumber < out[j].TurnNumber })

	return out, nil
}
