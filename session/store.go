package session

import (
	"context"
	"time"

	"github.com/hupe1980/redraft/core"
)

// Record is a persisted session: the immutable config plus the runtime fields
// updated as the session progresses. TotalCreditsUsed rolls forward with each
// appended turn.
type Record struct {
	Config            core.SessionConfig
	UserID            string
	Status            core.Status
	CurrentRound      int
	WorkingDocument   string
	TerminationReason string
	TotalCreditsUsed  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Clone returns a deep copy safe for independent mutation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Config = r.Config.Clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

// Store persists sessions and their exchange history.
type Store interface {
	// CreateSession persists a new session in core.StatusCreated.
	CreateSession(ctx context.Context, cfg core.SessionConfig, userID string) error

	// UpdateStatus transitions the session's lifecycle status. reason records
	// why a terminal status was reached and may be empty.
	UpdateStatus(ctx context.Context, sessionID string, status core.Status, reason string) error

	// AppendTurn persists one completed exchange turn.
	AppendTurn(ctx context.Context, sessionID string, turn core.ExchangeTurn) error

	// UpdateWorkingDocument persists the latest document snapshot.
	UpdateWorkingDocument(ctx context.Context, sessionID, text string) error

	// UpdateRound persists the current round counter.
	UpdateRound(ctx context.Context, sessionID string, round int) error

	// GetSession returns the persisted record, or core.ErrSessionNotFound
	// when the id is unknown.
	GetSession(ctx context.Context, sessionID string) (*Record, error)

	// ListTurns returns the session's turns ordered by turn number.
	ListTurns(ctx context.Context, sessionID string) ([]core.ExchangeTurn, error)
}
