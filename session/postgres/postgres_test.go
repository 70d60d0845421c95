package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/redraft/core"
)

func TestStoreRoundTrip_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}

	s, err := Open(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	cfg := core.SessionConfig{
		SessionID:     uuid.NewString(),
		Title:         "Essay on tides",
		InitialPrompt: "Write an essay about tides.",
		Agents: []core.AgentConfig{
			{ID: "writer", DisplayName: "Writer", Provider: core.ProviderAnthropic, Model: "claude-sonnet-4-20250514", Phase: core.PhaseWriter, IsActive: true},
		},
		Termination: core.TerminationCondition{MaxRounds: 3},
	}

	require.NoError(t, s.CreateSession(ctx, cfg, "user-1"))
	require.NoError(t, s.UpdateStatus(ctx, cfg.SessionID, core.StatusRunning, ""))
	require.NoError(t, s.AppendTurn(ctx, cfg.SessionID, core.ExchangeTurn{
		TurnNumber: 1, RoundNumber: 1, Phase: core.PhaseWriter,
		AgentID: "writer", AgentName: "Writer", Output: "Draft one.",
		Evaluation:  &core.Evaluation{OverallScore: 7.5},
		CreditsUsed: 3,
	}))
	require.NoError(t, s.UpdateWorkingDocument(ctx, cfg.SessionID, "Draft one."))
	require.NoError(t, s.UpdateStatus(ctx, cfg.SessionID, core.StatusCompleted, "Maximum rounds (3) reached"))

	rec, err := s.GetSession(ctx, cfg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, rec.Status)
	assert.Equal(t, "Draft one.", rec.WorkingDocument)
	assert.Equal(t, 3, rec.TotalCreditsUsed)
	assert.Equal(t, "Essay on tides", rec.Config.Title)
	require.NotNil(t, rec.CompletedAt)

	turns, err := s.ListTurns(ctx, cfg.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.NotNil(t, turns[0].Evaluation)
	assert.Equal(t, 7.5, turns[0].Evaluation.OverallScore)
}

func TestGetSessionUnknownID_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}

	s, err := Open(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.GetSession(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}
