package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/engine"
	"github.com/hupe1980/redraft/ledger"
	"github.com/hupe1980/redraft/provider"
)

func testAgents() []core.AgentConfig {
	return []core.AgentConfig{
		{
			ID: "writer", DisplayName: "Writer",
			Provider: core.ProviderAnthropic, Model: "claude-sonnet-4-5-20250929",
			RoleDescription: "You draft and revise the document.",
			IsActive:        true, Phase: core.PhaseWriter,
		},
		{
			ID: "style_editor", DisplayName: "Style Editor",
			Provider: core.ProviderOpenAI, Model: "gpt-4o",
			RoleDescription: "You edit for style.",
			IsActive:        true, Phase: core.PhaseEditor,
		},
	}
}

func testConfig() core.SessionConfig {
	return core.SessionConfig{
		SessionID:     "session-1",
		Title:         "Essay on tides",
		InitialPrompt: "Write a short essay about tides.",
		Agents:        testAgents(),
		Termination:   core.TerminationCondition{MaxRounds: 1},
	}
}

func newTestEngine(led ledger.Ledger) *engine.Engine {
	writerMock := provider.NewMockProvider(core.ProviderAnthropic, func(o *provider.MockOptions) {
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return "Tides follow the moon.", nil
		}
	})
	editorMock := provider.NewMockProvider(core.ProviderOpenAI, func(o *provider.MockOptions) {
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return "Tighten the opening paragraph.", nil
		}
	})

	return engine.New(func(o *engine.Options) {
		o.Providers = map[core.ProviderKind]provider.Provider{
			core.ProviderAnthropic: writerMock,
			core.ProviderOpenAI:    editorMock,
		}
		o.Ledger = led
	})
}

func TestRunSyncSettlesLedger(t *testing.T) {
	led := ledger.NewInMemory(func(o *ledger.InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 50}
	})
	r := New(newTestEngine(led), func(o *Options) {
		o.Ledger = led
	})

	res, err := r.RunSync(context.Background(), testConfig(), "user-1")
	require.NoError(t, err)

	// Writer, editor and the closing pass: one credit each at this size.
	require.Len(t, res.Snapshot.Turns, 3)
	assert.Equal(t, 3, res.CreditsUsed)

	balance, err := led.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 47, balance)

	txs, err := led.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionUsage, txs[0].Type)
	assert.Equal(t, -3, txs[0].Amount)
	assert.Equal(t, "session-1", txs[0].SessionID)
	assert.Equal(t, "Session: Essay on tides", txs[0].Description)
}

func TestRunRefusesInsufficientBalance(t *testing.T) {
	led := ledger.NewInMemory(func(o *ledger.InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 0}
	})

	writerMock := provider.NewMockProvider(core.ProviderAnthropic)
	e := engine.New(func(o *engine.Options) {
		o.Providers = map[core.ProviderKind]provider.Provider{
			core.ProviderAnthropic: writerMock,
			core.ProviderOpenAI:    provider.NewMockProvider(core.ProviderOpenAI),
		}
		o.Ledger = led
	})
	r := New(e, func(o *Options) {
		o.Ledger = led
	})

	_, err := r.Run(context.Background(), testConfig(), "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)

	var insufficient *ledger.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "user-1", insufficient.UserID)
	assert.Equal(t, 0, insufficient.Available)
	assert.GreaterOrEqual(t, insufficient.Requested, 1)

	// The gate fires before any provider call.
	assert.Empty(t, writerMock.Calls())
}

func TestRunSyncCollectsEvents(t *testing.T) {
	r := New(newTestEngine(nil))

	res, err := r.RunSync(context.Background(), testConfig(), "user-1")
	require.NoError(t, err)

	require.NotEmpty(t, res.Events)
	assert.Equal(t, core.EventSessionStart, res.Events[0].Type)
	assert.Equal(t, core.EventSessionComplete, res.Events[len(res.Events)-1].Type)
	assert.Equal(t, core.MaxRoundsReason(1), res.Snapshot.TerminationReason)
	assert.Equal(t, 3, res.CreditsUsed)
}

// shortLedger admits every session and then refuses to settle it.
type shortLedger struct{}

func (shortLedger) Balance(context.Context, string) (int, error) { return 100, nil }

func (shortLedger) Deduct(_ context.Context, userID string, amount int, _, _ string) (int, error) {
	return 0, &ledger.InsufficientCreditsError{UserID: userID, Requested: amount, Available: 0}
}

func TestSettlementFailureKeepsWork(t *testing.T) {
	led := shortLedger{}
	r := New(newTestEngine(led), func(o *Options) {
		o.Ledger = led
	})

	res, err := r.RunSync(context.Background(), testConfig(), "user-1")
	require.NoError(t, err)

	require.Len(t, res.Snapshot.Turns, 3)
	assert.Equal(t, core.MaxRoundsReason(1), res.Snapshot.TerminationReason)
}

func TestRunCancelPropagates(t *testing.T) {
	r := New(newTestEngine(nil))

	run, err := r.Run(context.Background(), testConfig(), "user-1")
	require.NoError(t, err)
	run.Cancel()

	for range run.Events() {
	}
	snap := run.Wait()

	assert.Equal(t, core.ReasonStoppedByUser, snap.TerminationReason)
	assert.True(t, snap.Cancelled)
	assert.Equal(t, "session-1", run.SessionID())
}
