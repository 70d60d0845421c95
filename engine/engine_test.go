package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/ledger"
	"github.com/hupe1980/redraft/provider"
	"github.com/hupe1980/redraft/session"
)

func writerAgent() core.AgentConfig {
	return core.AgentConfig{
		ID:              "writer",
		DisplayName:     "Writer",
		Provider:        core.ProviderAnthropic,
		Model:           "claude-sonnet-4-5-20250929",
		RoleDescription: "You are an essayist drafting and revising the working document.",
		EvaluationCriteria: []core.EvaluationCriterion{
			{Name: "clarity", Description: "The prose is clear and direct."},
		},
		IsActive: true,
		Phase:    core.PhaseWriter,
	}
}

func styleEditor() core.AgentConfig {
	return core.AgentConfig{
		ID:              "style_editor",
		DisplayName:     "Style Editor",
		Provider:        core.ProviderOpenAI,
		Model:           "gpt-4o",
		RoleDescription: "You edit for rhythm and economy.",
		EvaluationCriteria: []core.EvaluationCriterion{
			{Name: "style", Description: "Sentence-level craft."},
		},
		IsActive: true,
		Phase:    core.PhaseEditor,
	}
}

func contentExpert() core.AgentConfig {
	return core.AgentConfig{
		ID:              "content_expert",
		DisplayName:     "Content Expert",
		Provider:        core.ProviderOpenAI,
		Model:           "gpt-4o",
		RoleDescription: "You review for accuracy and depth.",
		EvaluationCriteria: []core.EvaluationCriterion{
			{Name: "accuracy", Description: "Claims hold up."},
		},
		IsActive: true,
		Phase:    core.PhaseEditor,
	}
}

func factChecker() core.AgentConfig {
	return core.AgentConfig{
		ID:              "fact_checker",
		DisplayName:     "Fact Checker",
		Provider:        core.ProviderOpenAI,
		Model:           "gpt-4o-mini",
		RoleDescription: "You verify claims and attributions.",
		EvaluationCriteria: []core.EvaluationCriterion{
			{Name: "sourcing", Description: "Claims are attributable."},
		},
		IsActive: true,
		Phase:    core.PhaseEditor,
	}
}

func synthAgent() core.AgentConfig {
	return core.AgentConfig{
		ID:              "synthesizer",
		DisplayName:     "Synthesizer",
		Provider:        core.ProviderPerplexity,
		Model:           "sonar-pro",
		RoleDescription: "You condense editorial feedback into one directive.",
		EvaluationCriteria: []core.EvaluationCriterion{
			{Name: "readiness", Description: "How close the draft is to done."},
		},
		IsActive: true,
		Phase:    core.PhaseSynthesizer,
	}
}

func testSession(maxRounds int, agents ...core.AgentConfig) core.SessionConfig {
	return core.SessionConfig{
		SessionID:     "session-1",
		Title:         "Essay on tides",
		InitialPrompt: "Write a short essay about tides.",
		Agents:        agents,
		Termination:   core.TerminationCondition{MaxRounds: maxRounds},
	}
}

// scoredResponse builds a response in the structured shape agents are asked
// for: a fenced JSON object with the narrative output and a self-evaluation.
func scoredResponse(output string, score float64) string {
	return fmt.Sprintf("```json\n{\n  \"output\": %q,\n  \"evaluation\": {\n    \"criteria_scores\": [\n      {\"criterion\": \"clarity\", \"score\": %.1f, \"justification\": \"ok\"}\n    ],\n    \"overall_score\": %.1f,\n    \"summary\": \"ok\"\n  }\n}\n```", output, score, score)
}

func staticMock(kind core.ProviderKind, response string) *provider.MockProvider {
	return provider.NewMockProvider(kind, func(o *provider.MockOptions) {
		o.Respond = func(provider.GenerateRequest) (string, error) { return response, nil }
	})
}

func newTestEngine(providers map[core.ProviderKind]provider.Provider, optFns ...func(o *Options)) *Engine {
	all := append([]func(o *Options){func(o *Options) {
		o.Providers = providers
		o.PausePollInterval = 2 * time.Millisecond
	}}, optFns...)
	return New(all...)
}

// drainEvents consumes the handle's stream until the run closes it.
func drainEvents(h *Handle) []core.Event {
	var events []core.Event
	for ev := range h.Events() {
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []core.Event, typ core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// nonTokenTypes reduces an event stream to its lifecycle skeleton.
func nonTokenTypes(events []core.Event) []core.EventType {
	var types []core.EventType
	for _, ev := range events {
		if ev.Type == core.EventAgentToken {
			continue
		}
		types = append(types, ev.Type)
	}
	return types
}

func TestSingleRoundWriterEditor(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Tighten the opening paragraph.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	})

	h, err := e.Start(context.Background(), testSession(1, writerAgent(), styleEditor()), "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()
	assert.NoError(t, <-h.Err())

	assert.Equal(t, []core.EventType{
		core.EventSessionStart,
		core.EventRoundStart,
		core.EventAgentStart,
		core.EventAgentComplete,
		core.EventAgentStart,
		core.EventAgentComplete,
		core.EventRoundComplete,
		core.EventRoundStart,
		core.EventAgentStart,
		core.EventAgentComplete,
		core.EventSessionComplete,
	}, nonTokenTypes(events))

	start := eventsOfType(events, core.EventSessionStart)[0]
	assert.Equal(t, 2, start.Data["agent_count"])
	assert.Equal(t, 1, start.Data["max_rounds"])

	require.Len(t, snap.Turns, 3)
	for i, turn := range snap.Turns {
		assert.Equal(t, i+1, turn.TurnNumber)
		assert.Equal(t, 1, turn.RoundNumber)
	}
	assert.Equal(t, "writer", snap.Turns[0].AgentID)
	assert.Equal(t, "style_editor", snap.Turns[1].AgentID)
	assert.Equal(t, "writer", snap.Turns[2].AgentID)

	assert.Equal(t, core.MaxRoundsReason(1), snap.TerminationReason)
	done := eventsOfType(events, core.EventSessionComplete)[0]
	assert.Equal(t, core.MaxRoundsReason(1), done.Data["reason"])
	assert.Equal(t, 1, done.Data["rounds_completed"])
	assert.Equal(t, 3, done.Data["turns_completed"])

	// The closing pass folds in this round's feedback, not a previous round's.
	writerCalls := writerMock.Calls()
	require.Len(t, writerCalls, 2)
	assert.Contains(t, writerCalls[1].UserPrompt, "=== EDITORIAL FEEDBACK ===")
	assert.Contains(t, writerCalls[1].UserPrompt, "### Style Editor")

	finalStart := eventsOfType(events, core.EventRoundStart)[1]
	assert.Equal(t, true, finalStart.Data["is_final_pass"])
	assert.Equal(t, 1, finalStart.Data["round"])
}

func TestParallelEditorsTurnNumbering(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := provider.NewMockProvider(core.ProviderOpenAI, func(o *provider.MockOptions) {
		o.Latency = 2 * time.Millisecond
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return scoredResponse("Sharpen the middle section.", 6.5), nil
		}
	})
	synthMock := staticMock(core.ProviderPerplexity, scoredResponse("Prioritize the pacing notes.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic:  writerMock,
		core.ProviderOpenAI:     editorMock,
		core.ProviderPerplexity: synthMock,
	})

	cfg := testSession(2, writerAgent(), contentExpert(), styleEditor(), factChecker(), synthAgent())
	h, err := e.Start(context.Background(), cfg, "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()

	// Five agents over two rounds plus the closing pass: numbering stays
	// contiguous no matter how the editor goroutines interleave.
	require.Len(t, snap.Turns, 11)
	for i, turn := range snap.Turns {
		assert.Equal(t, i+1, turn.TurnNumber)
	}

	// Editor numbers follow roster order within the reserved block.
	assert.Equal(t, "content_expert", snap.Turns[1].AgentID)
	assert.Equal(t, "style_editor", snap.Turns[2].AgentID)
	assert.Equal(t, "fact_checker", snap.Turns[3].AgentID)
	assert.Equal(t, "synthesizer", snap.Turns[4].AgentID)
	assert.Equal(t, "content_expert", snap.Turns[6].AgentID)

	for _, turn := range snap.Turns[:5] {
		assert.Equal(t, 1, turn.RoundNumber)
	}
	for _, turn := range snap.Turns[5:] {
		assert.Equal(t, 2, turn.RoundNumber)
	}

	assert.Len(t, eventsOfType(events, core.EventAgentComplete), 11)
	rounds := eventsOfType(events, core.EventRoundComplete)
	require.Len(t, rounds, 2)
	assert.Equal(t, 5, rounds[0].Data["turns_in_round"])
	assert.Equal(t, core.MaxRoundsReason(2), snap.TerminationReason)
}

func TestDocumentFollowsWriter(t *testing.T) {
	var drafts atomic.Int32
	writerMock := provider.NewMockProvider(core.ProviderAnthropic, func(o *provider.MockOptions) {
		o.Respond = func(provider.GenerateRequest) (string, error) {
			switch drafts.Add(1) {
			case 1:
				return scoredResponse("Draft one.", 6.0), nil
			case 2:
				return scoredResponse("Draft two.", 7.0), nil
			default:
				return scoredResponse("Final draft.", 8.0), nil
			}
		}
	})
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Cut the hedging.", 6.0))
	synthMock := staticMock(core.ProviderPerplexity, scoredResponse("Apply the style notes.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic:  writerMock,
		core.ProviderOpenAI:     editorMock,
		core.ProviderPerplexity: synthMock,
	})

	h, err := e.Start(context.Background(), testSession(2, writerAgent(), styleEditor(), synthAgent()), "user-1")
	require.NoError(t, err)

	drainEvents(h)
	snap := h.Wait()

	require.Len(t, snap.Turns, 7)

	// Writer turns replace the document; editor and synthesizer turns see it
	// unchanged.
	assert.Equal(t, "Draft one.", snap.Turns[0].WorkingDocument)
	assert.Equal(t, "Draft one.", snap.Turns[1].WorkingDocument)
	assert.Equal(t, "Draft one.", snap.Turns[2].WorkingDocument)
	assert.Equal(t, "Draft two.", snap.Turns[3].WorkingDocument)
	assert.Equal(t, "Draft two.", snap.Turns[4].WorkingDocument)
	assert.Equal(t, "Draft two.", snap.Turns[5].WorkingDocument)
	assert.Equal(t, "Final draft.", snap.Turns[6].WorkingDocument)
	assert.Equal(t, "Final draft.", snap.WorkingDocument)

	assert.Equal(t, "Draft one.", snap.Turns[0].Output)
	assert.NotEmpty(t, snap.Turns[0].RawResponse)
}

func TestScoreThresholdStopsEarly(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Minor polish only.", 8.0))
	synthMock := staticMock(core.ProviderPerplexity, scoredResponse("The draft is ready.", 9.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic:  writerMock,
		core.ProviderOpenAI:     editorMock,
		core.ProviderPerplexity: synthMock,
	})

	cfg := testSession(5, writerAgent(), styleEditor(), synthAgent())
	cfg.Termination.ScoreThreshold = 8.5

	h, err := e.Start(context.Background(), cfg, "user-1")
	require.NoError(t, err)

	drainEvents(h)
	snap := h.Wait()

	assert.Equal(t, "Quality target reached: Synthesizer scored 9.0 (target: 8.5)", snap.TerminationReason)
	assert.Equal(t, 1, snap.CurrentRound)
	assert.Len(t, snap.Turns, 4) // round 1 plus the closing pass
}

func TestCreditFloorStopsBeforeBatch(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Feedback.", 6.0))

	led := ledger.NewInMemory(func(o *ledger.InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 3}
	})

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	}, func(o *Options) {
		o.Ledger = led
	})

	cfg := testSession(5, writerAgent(), contentExpert(), styleEditor())
	h, err := e.Start(context.Background(), cfg, "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()

	// The writer turn costs one credit; two remaining cannot cover a
	// two-editor batch, so the session stops before launching it.
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, core.ReasonInsufficientCredits, snap.TerminationReason)

	done := eventsOfType(events, core.EventSessionComplete)
	require.Len(t, done, 1)
	assert.Equal(t, core.ReasonCreditDepleted, done[0].Data["reason"])
	assert.Equal(t, 1, done[0].Data["credits_used"])
	assert.NotEmpty(t, eventsOfType(events, core.EventCreditWarning))
}

func TestCancelSkipsRemainingPhases(t *testing.T) {
	var h *Handle
	ready := make(chan struct{})

	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := provider.NewMockProvider(core.ProviderOpenAI, func(o *provider.MockOptions) {
		o.Respond = func(req provider.GenerateRequest) (string, error) {
			// Round 2 is visible through the exchange history rendered into
			// the prompt. Cancelling here lands between the editor batch and
			// the synthesizer turn.
			if strings.Contains(req.UserPrompt, "[Round 2") {
				<-ready
				h.Cancel()
			}
			return scoredResponse("Trim the opening.", 6.0), nil
		}
	})
	synthMock := staticMock(core.ProviderPerplexity, scoredResponse("Apply the trims.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic:  writerMock,
		core.ProviderOpenAI:     editorMock,
		core.ProviderPerplexity: synthMock,
	})

	started, err := e.Start(context.Background(), testSession(3, writerAgent(), styleEditor(), synthAgent()), "user-1")
	require.NoError(t, err)
	h = started
	close(ready)

	events := drainEvents(h)
	snap := h.Wait()

	// Round 1 ran fully; round 2 kept its writer and editor turns but never
	// reached the synthesizer, and no closing pass ran.
	require.Len(t, snap.Turns, 5)
	assert.Equal(t, "style_editor", snap.Turns[4].AgentID)
	assert.Equal(t, core.ReasonStoppedByUser, snap.TerminationReason)
	assert.True(t, snap.Cancelled)

	done := eventsOfType(events, core.EventSessionComplete)
	require.Len(t, done, 1)
	assert.Equal(t, core.ReasonStoppedByUser, done[0].Data["reason"])
}

func TestPauseAndResume(t *testing.T) {
	writerMock := provider.NewMockProvider(core.ProviderAnthropic, func(o *provider.MockOptions) {
		o.Latency = 5 * time.Millisecond
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return scoredResponse("Tides follow the moon.", 7.0), nil
		}
	})
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Feedback.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	})

	h, err := e.Start(context.Background(), testSession(1, writerAgent(), styleEditor()), "user-1")
	require.NoError(t, err)
	h.Pause()

	var events []core.Event
	for ev := range h.Events() {
		events = append(events, ev)
		if ev.Type == core.EventSessionPaused {
			h.Resume()
		}
	}
	snap := h.Wait()

	paused := eventsOfType(events, core.EventSessionPaused)
	require.Len(t, paused, 1)
	assert.Equal(t, "Writer", paused[0].Data["after_agent"])
	assert.Equal(t, 1, paused[0].Data["turn_number"])
	require.Len(t, eventsOfType(events, core.EventSessionResumed), 1)

	assert.Len(t, snap.Turns, 3)
	assert.Equal(t, core.MaxRoundsReason(1), snap.TerminationReason)
}

func TestEditorFailureSkipsTurn(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := provider.NewMockProvider(core.ProviderOpenAI, func(o *provider.MockOptions) {
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return "", errors.New("editor backend down")
		}
	})
	synthMock := staticMock(core.ProviderPerplexity, scoredResponse("Focus revisions on pacing.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic:  writerMock,
		core.ProviderOpenAI:     editorMock,
		core.ProviderPerplexity: synthMock,
	})

	h, err := e.Start(context.Background(), testSession(1, writerAgent(), styleEditor(), synthAgent()), "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()

	// The editor's turn number stays consumed: history reads 1, 3, 4.
	require.Len(t, snap.Turns, 3)
	assert.Equal(t, 1, snap.Turns[0].TurnNumber)
	assert.Equal(t, 3, snap.Turns[1].TurnNumber)
	assert.Equal(t, 4, snap.Turns[2].TurnNumber)
	assert.Equal(t, "synthesizer", snap.Turns[1].AgentID)

	errEvents := eventsOfType(events, core.EventError)
	require.Len(t, errEvents, 1)
	assert.Equal(t, "style_editor", errEvents[0].Data["agent_id"])
	assert.Contains(t, errEvents[0].Data["message"], "editor backend down")

	// The closing pass aggregates what the round actually produced.
	writerCalls := writerMock.Calls()
	require.Len(t, writerCalls, 2)
	assert.Contains(t, writerCalls[1].UserPrompt, "### Synthesizer")
	assert.NotContains(t, writerCalls[1].UserPrompt, "### Style Editor")

	assert.Equal(t, core.MaxRoundsReason(1), snap.TerminationReason)
}

func TestUnparsableResponseRecorded(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))

	plainEditor := styleEditor()
	plainEditor.EvaluationCriteria = nil
	raw := "The middle section drags and the opening buries the thesis."
	editorMock := staticMock(core.ProviderOpenAI, raw)

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	})

	h, err := e.Start(context.Background(), testSession(1, writerAgent(), plainEditor), "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()

	require.Len(t, snap.Turns, 3)
	editorTurn := snap.Turns[1]
	assert.Nil(t, editorTurn.Evaluation)
	assert.NotEmpty(t, editorTurn.ParseError)
	assert.Equal(t, raw, editorTurn.Output)

	// A missing evaluation is not a failure.
	assert.Empty(t, eventsOfType(events, core.EventError))
}

func TestStartValidation(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := e.Start(context.Background(), core.SessionConfig{}, "user-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid session config")
	})

	t.Run("no active agents", func(t *testing.T) {
		inactive := writerAgent()
		inactive.IsActive = false
		_, err := e.Start(context.Background(), testSession(1, inactive), "user-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no active agents")
	})

	t.Run("missing provider", func(t *testing.T) {
		_, err := e.Start(context.Background(), testSession(1, writerAgent(), styleEditor()), "user-1")
		assert.ErrorIs(t, err, core.ErrNoProvider)
	})

	t.Run("max rounds defaulted", func(t *testing.T) {
		cfg := testSession(0, writerAgent())
		h, err := e.Start(context.Background(), cfg, "user-1")
		require.NoError(t, err)
		h.Cancel()

		events := drainEvents(h)
		start := eventsOfType(events, core.EventSessionStart)
		require.Len(t, start, 1)
		assert.Equal(t, core.DefaultMaxRounds, start[0].Data["max_rounds"])

		// The caller's config is untouched; Start works on a clone.
		assert.Equal(t, 0, cfg.Termination.MaxRounds)
	})
}

func TestStopByHandleID(t *testing.T) {
	writerMock := provider.NewMockProvider(core.ProviderAnthropic, func(o *provider.MockOptions) {
		o.Latency = 2 * time.Millisecond
		o.Respond = func(provider.GenerateRequest) (string, error) {
			return scoredResponse("Tides follow the moon.", 7.0), nil
		}
	})
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Feedback.", 6.0))

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	})

	h, err := e.Start(context.Background(), testSession(3, writerAgent(), styleEditor()), "user-1")
	require.NoError(t, err)

	require.NoError(t, e.Stop(h.ID()))
	drainEvents(h)
	snap := h.Wait()

	assert.Equal(t, core.ReasonStoppedByUser, snap.TerminationReason)
	assert.True(t, snap.Cancelled)

	err = e.Stop("unknown-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCreditWarningEmittedOnce(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Tides follow the moon.", 7.0))
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Feedback.", 6.0))

	led := ledger.NewInMemory(func(o *ledger.InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 6}
	})

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	}, func(o *Options) {
		o.Ledger = led
	})

	h, err := e.Start(context.Background(), testSession(2, writerAgent(), styleEditor()), "user-1")
	require.NoError(t, err)

	events := drainEvents(h)
	snap := h.Wait()

	// Each small turn costs one credit: the projected balance crosses the
	// watermark on turn two and keeps falling, yet the warning fires once.
	warnings := eventsOfType(events, core.EventCreditWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, 4, warnings[0].Data["remaining_credits"])
	assert.Equal(t, core.LowCreditMessage, warnings[0].Data["message"])

	assert.Len(t, snap.Turns, 5)
	assert.Equal(t, core.MaxRoundsReason(2), snap.TerminationReason)
}

func TestStorePersistsLifecycle(t *testing.T) {
	writerMock := staticMock(core.ProviderAnthropic, scoredResponse("Polished draft.", 7.0))
	editorMock := staticMock(core.ProviderOpenAI, scoredResponse("Feedback.", 6.0))
	store := session.NewInMemoryStore()

	e := newTestEngine(map[core.ProviderKind]provider.Provider{
		core.ProviderAnthropic: writerMock,
		core.ProviderOpenAI:    editorMock,
	}, func(o *Options) {
		o.Store = store
	})

	h, err := e.Start(context.Background(), testSession(1, writerAgent(), styleEditor()), "user-42")
	require.NoError(t, err)

	drainEvents(h)
	h.Wait()

	rec, err := store.GetSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "user-42", rec.UserID)
	assert.Equal(t, core.StatusCompleted, rec.Status)
	assert.Equal(t, core.MaxRoundsReason(1), rec.TerminationReason)
	assert.Equal(t, 1, rec.CurrentRound)
	assert.Equal(t, 3, rec.TotalCreditsUsed)
	assert.Equal(t, "Polished draft.", rec.WorkingDocument)
	require.NotNil(t, rec.CompletedAt)

	turns, err := store.ListTurns(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 1, turns[0].TurnNumber)
	assert.Equal(t, 3, turns[2].TurnNumber)
}
