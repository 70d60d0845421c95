package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/credits"
	"github.com/hupe1980/redraft/evaluation"
	"github.com/hupe1980/redraft/logging"
	"github.com/hupe1980/redraft/provider"
)

// creditFloorPerTurn is the minimum remaining balance required to start one
// more agent invocation. A parallel batch requires it per editor.
const creditFloorPerTurn = 2

// lowCreditWatermark triggers the one-shot credit_warning event.
const lowCreditWatermark = 5

// run executes one session from start to completion. Its methods run on a
// single scheduler goroutine, the sole writer of session state; phase-2
// editor goroutines hand their results back through a shared queue and touch
// nothing else.
type run struct {
	engine *Engine
	handle *Handle
	state  *core.SessionState
	userID string
	log    logging.Logger

	// initialBalance is the credit balance read at start, -1 without a
	// ledger. Remaining budget is projected as initialBalance - creditsUsed;
	// the ledger itself is not consulted again during the run.
	initialBalance int
	creditsUsed    int
	creditWarned   bool
}

// outcome describes how a session ended and what remains to be done about it.
type outcome struct {
	reason    string
	status    core.Status
	depleted  bool
	finalPass bool
}

func stoppedOutcome() outcome {
	return outcome{reason: core.ReasonStoppedByUser, status: core.StatusStopped}
}

func depletedOutcome() outcome {
	return outcome{reason: core.ReasonInsufficientCredits, status: core.StatusStopped, depleted: true}
}

// execute drives the whole session: announce, loop rounds until an outcome,
// run the final polish pass when the outcome calls for one, then close out
// with a terminal event and final persistence.
func (r *run) execute(ctx context.Context) {
	cfg := r.state.Config
	started := time.Now()

	r.state.SetRunning(true)
	defer r.state.SetRunning(false)

	r.log.Info("session starting",
		"session", cfg.SessionID, "agents", len(activeRoster(cfg)), "max_rounds", cfg.Termination.MaxRounds)

	r.forward(ctx, core.NewSessionStartEvent(cfg.SessionID, activeRoster(cfg), cfg.Termination.MaxRounds))
	r.persistCreate(ctx)

	out := r.rounds(ctx)
	if out.finalPass {
		r.finalPolish(ctx)
	}

	r.state.SetTerminationReason(out.reason)

	rounds := r.state.CurrentRound()
	turns := r.state.TurnCount()
	if out.depleted {
		r.forward(ctx, core.NewCreditDepletedEvent(cfg.SessionID, rounds, turns, r.creditsUsed))
	} else {
		r.forward(ctx, core.NewSessionCompleteEvent(cfg.SessionID, out.reason, rounds, turns))
	}

	// Terminal state must land even when the caller's context is already
	// gone, or a crash-recovery scan would find the session still "running".
	persistCtx := context.WithoutCancel(ctx)
	r.persistStatus(persistCtx, out.status, out.reason)
	r.persistDocument(persistCtx)

	r.log.Info("session complete",
		"session", cfg.SessionID, "reason", out.reason, "rounds", rounds,
		"turns", turns, "credits_used", r.creditsUsed, "duration", time.Since(started))

	if err := ctx.Err(); err != nil {
		select {
		case r.handle.errs <- err:
		default:
		}
	}
}

// rounds runs the refinement loop until a termination outcome is reached.
func (r *run) rounds(ctx context.Context) outcome {
	cfg := r.state.Config

	for {
		if r.stopRequested(ctx) {
			return stoppedOutcome()
		}

		round := r.state.BeginRound()
		r.forward(ctx, core.NewRoundStartEvent(cfg.SessionID, round, cfg.Termination.MaxRounds, false))
		r.persistRound(ctx, round)

		if writer := cfg.Writer(); writer != nil {
			if out, stop := r.sequential(ctx, *writer, round); stop {
				return out
			}
		}
		if editors := cfg.Editors(); len(editors) > 0 {
			if out, stop := r.editorBatch(ctx, editors, round); stop {
				return out
			}
		}
		if synth := cfg.Synthesizer(); synth != nil {
			if out, stop := r.sequential(ctx, *synth, round); stop {
				return out
			}
		}

		if r.stopRequested(ctx) {
			return stoppedOutcome()
		}

		r.forward(ctx, core.NewRoundCompleteEvent(cfg.SessionID, round, len(r.state.TurnsForRound(round, 0))))

		if reason, done := r.checkTermination(); done {
			return outcome{reason: reason, status: core.StatusCompleted, finalPass: true}
		}
	}
}

// sequential runs one writer or synthesizer turn on the scheduler goroutine.
// The bool result reports whether the session must unwind.
func (r *run) sequential(ctx context.Context, agent core.AgentConfig, round int) (outcome, bool) {
	if r.stopRequested(ctx) {
		return stoppedOutcome(), true
	}
	if r.belowCreditFloor(1) {
		return depletedOutcome(), true
	}

	sessionID := r.state.Config.SessionID
	turnNumber := r.state.NextTurn()
	r.forward(ctx, core.NewAgentStartEvent(sessionID, agent, turnNumber, round, false))

	turn, err := r.invoke(ctx, agent, turnNumber, round, false, func(ev core.Event) {
		r.forward(ctx, ev)
	})
	if err != nil {
		// The turn number stays consumed; the round continues without this
		// agent's contribution.
		r.log.Error("agent turn failed",
			"session", sessionID, "agent", agent.ID, "turn", turnNumber, "error", err)
		r.forward(ctx, core.NewAgentErrorEvent(sessionID, agent.ID, err.Error()))
		return outcome{}, false
	}

	recorded := r.record(*turn)
	r.forward(ctx, core.NewAgentCompleteEvent(sessionID, recorded, r.creditsUsed, false))
	r.persistTurn(ctx, recorded)
	r.warnLowCredits(ctx)
	r.pausePoll(ctx, agent.Name(), turnNumber, round)

	return outcome{}, false
}

// editorMessage is one update from an editor goroutine: a streamed event to
// forward, or the editor's terminal result. Exactly one field besides agent
// is set.
type editorMessage struct {
	agent core.AgentConfig
	event *core.Event
	turn  *core.ExchangeTurn
	err   error
}

// editorBatch runs every active editor concurrently. Turn numbers are
// reserved contiguously in roster order before launch, so history numbering
// is independent of completion order. agent_complete events go out as
// editors finish; the turns themselves are appended in turn-number order
// after the batch joins.
func (r *run) editorBatch(ctx context.Context, editors []core.AgentConfig, round int) (outcome, bool) {
	if r.stopRequested(ctx) {
		return stoppedOutcome(), true
	}
	if r.belowCreditFloor(len(editors)) {
		return depletedOutcome(), true
	}

	sessionID := r.state.Config.SessionID
	firstTurn := r.state.ReserveTurns(len(editors))
	for i, editor := range editors {
		r.forward(ctx, core.NewAgentStartEvent(sessionID, editor, firstTurn+i, round, false))
	}

	queue := make(chan editorMessage, r.engine.eventBufferSize)
	for i, editor := range editors {
		go func(editor core.AgentConfig, turnNumber int) {
			turn, err := r.invoke(ctx, editor, turnNumber, round, false, func(ev core.Event) {
				queue <- editorMessage{agent: editor, event: &ev}
			})
			if err != nil {
				queue <- editorMessage{agent: editor, err: err}
				return
			}
			queue <- editorMessage{agent: editor, turn: turn}
		}(editor, firstTurn+i)
	}

	// Drain until every editor has reported a terminal result. Tokens are
	// forwarded as they arrive, so the client sees the batch interleaved.
	var completed []core.ExchangeTurn
	for pending := len(editors); pending > 0; {
		msg := <-queue
		switch {
		case msg.event != nil:
			r.forward(ctx, *msg.event)
		case msg.err != nil:
			pending--
			r.log.Error("editor turn failed",
				"session", sessionID, "agent", msg.agent.ID, "error", msg.err)
			r.forward(ctx, core.NewAgentErrorEvent(sessionID, msg.agent.ID, msg.err.Error()))
		default:
			pending--
			turn := *msg.turn
			turn.WorkingDocument = r.state.WorkingDocument()
			r.creditsUsed += turn.CreditsUsed
			r.forward(ctx, core.NewAgentCompleteEvent(sessionID, turn, r.creditsUsed, false))
			r.warnLowCredits(ctx)
			completed = append(completed, turn)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].TurnNumber < completed[j].TurnNumber
	})
	for _, turn := range completed {
		r.state.AppendTurn(turn)
		r.persistTurn(ctx, turn)
	}

	return outcome{}, false
}

// finalPolish runs the closing writer pass after normal termination, letting
// the writer fold in the directive the synthesizer produced this round.
// Failures are reported but never block session completion, and no pause or
// credit gate applies: the session is already over.
func (r *run) finalPolish(ctx context.Context) {
	cfg := r.state.Config
	writer := cfg.Writer()
	if writer == nil || r.stopRequested(ctx) {
		return
	}

	sessionID := cfg.SessionID
	round := r.state.CurrentRound()
	r.forward(ctx, core.NewRoundStartEvent(sessionID, round, cfg.Termination.MaxRounds, true))

	turnNumber := r.state.NextTurn()
	r.forward(ctx, core.NewAgentStartEvent(sessionID, *writer, turnNumber, round, true))

	turn, err := r.invoke(ctx, *writer, turnNumber, round, true, func(ev core.Event) {
		r.forward(ctx, ev)
	})
	if err != nil {
		r.log.Error("final writer pass failed",
			"session", sessionID, "agent", writer.ID, "turn", turnNumber, "error", err)
		r.forward(ctx, core.NewAgentErrorEvent(sessionID, writer.ID, err.Error()))
		return
	}

	recorded := r.record(*turn)
	r.forward(ctx, core.NewAgentCompleteEvent(sessionID, recorded, r.creditsUsed, true))
	r.persistTurn(ctx, recorded)
}

// invoke runs one agent invocation end to end: prompt composition, streamed
// generation, evaluation parsing and usage metering. It reads session state
// but never writes it, so it is safe on editor goroutines; recording the
// returned turn is the caller's job.
func (r *run) invoke(
	ctx context.Context,
	agent core.AgentConfig,
	turnNumber int,
	round int,
	finalPass bool,
	emit func(ev core.Event),
) (*core.ExchangeTurn, error) {
	prov, ok := r.engine.providers[agent.Provider]
	if !ok {
		return nil, fmt.Errorf("%w %s: %s", core.ErrNoProvider, agent.ID, agent.Provider)
	}

	sessionID := r.state.Config.SessionID
	firstTurn := turnNumber == 1
	systemPrompt := r.engine.composer.SystemPrompt(agent, r.state)
	userPrompt := r.engine.composer.UserPrompt(agent, r.state, firstTurn, finalPass)

	req := provider.GenerateRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Model:        agent.Model,
		Temperature:  r.engine.temperature,
		OnRetry: func(attempt, maxAttempts int, reason string) {
			r.log.Warn("provider retry",
				"session", sessionID, "agent", agent.ID,
				"attempt", attempt, "max_attempts", maxAttempts, "reason", reason)
		},
	}

	started := time.Now()
	result, err := prov.GenerateStream(ctx, req, func(token string) {
		emit(core.NewAgentTokenEvent(sessionID, agent.ID, token))
	})
	r.recordHealth(agent.Provider, err)
	if err != nil {
		return nil, err
	}
	r.log.Debug("agent response generated",
		"agent", agent.ID, "turn", turnNumber, "bytes", len(result.Content), "duration", time.Since(started))

	turn := core.ExchangeTurn{
		TurnNumber:  turnNumber,
		RoundNumber: round,
		Phase:       agent.Phase,
		AgentID:     agent.ID,
		AgentName:   agent.Name(),
		Timestamp:   time.Now().UTC(),
		Output:      evaluation.ExtractContent(result.Content),
		RawResponse: result.Content,
	}

	// A response without extractable scores is a recorded condition, not an
	// error: the turn carries the parse failure and the session moves on.
	eval, parseErr := evaluation.Parse(result.Content, agent.CriteriaNames())
	if parseErr != nil {
		turn.ParseError = parseErr.Error()
	} else {
		turn.Evaluation = eval
	}

	inputTokens := result.InputTokens
	if inputTokens <= 0 {
		inputTokens = credits.EstimateTokens(systemPrompt + userPrompt)
	}
	outputTokens := result.OutputTokens
	if outputTokens <= 0 {
		outputTokens = credits.EstimateTokens(result.Content)
	}
	turn.TokensInput = inputTokens
	turn.TokensOutput = outputTokens
	turn.CreditsUsed = credits.CalculateCredits(agent.Model, inputTokens, outputTokens)

	return &turn, nil
}

// record applies the document update rule, stamps the post-turn document on
// the turn and appends it to history. Only writer output replaces the
// document; every other phase passes it through. Scheduler goroutine only.
func (r *run) record(turn core.ExchangeTurn) core.ExchangeTurn {
	if turn.Phase == core.PhaseWriter {
		r.state.SetWorkingDocument(turn.Output)
	}
	turn.WorkingDocument = r.state.WorkingDocument()
	r.state.AppendTurn(turn)
	r.creditsUsed += turn.CreditsUsed
	return turn
}

// checkTermination decides whether the session ends after the round just
// completed: the round allotment first, then the configured score threshold
// against the most recent synthesizer evaluation. Older synthesizer scores
// are never reconsidered once a newer evaluation exists.
func (r *run) checkTermination() (string, bool) {
	cfg := r.state.Config
	if round := r.state.CurrentRound(); round >= cfg.Termination.MaxRounds {
		return core.MaxRoundsReason(cfg.Termination.MaxRounds), true
	}

	threshold := cfg.Termination.ScoreThreshold
	if threshold <= 0 {
		return "", false
	}

	history := r.state.History()
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Phase != core.PhaseSynthesizer || turn.Evaluation == nil {
			continue
		}
		if turn.Evaluation.OverallScore >= threshold {
			return core.QualityTargetReason(turn.AgentName, turn.Evaluation.OverallScore, threshold), true
		}
		break
	}

	return "", false
}

// pausePoll honors a pause request at a sequential turn boundary, re-checking
// the flag on a fixed interval until the session is resumed or cancelled.
// Parallel batches are never interrupted; pausing mid-batch would freeze some
// editors while others keep streaming.
func (r *run) pausePoll(ctx context.Context, afterAgent string, turnNumber, round int) {
	if !r.state.IsPaused() {
		return
	}

	sessionID := r.state.Config.SessionID
	r.forward(ctx, core.NewSessionPausedEvent(sessionID, afterAgent, turnNumber, round))
	r.persistStatus(ctx, core.StatusPaused, "")
	r.log.Info("session paused", "session", sessionID, "after_agent", afterAgent, "turn", turnNumber)

	for r.state.IsPaused() && !r.state.IsCancelled() {
		if err := provider.SleepContext(ctx, r.engine.pausePollInterval); err != nil {
			return
		}
	}
	if r.state.IsCancelled() {
		return
	}

	r.forward(ctx, core.NewSessionResumedEvent(sessionID, turnNumber, round))
	r.persistStatus(ctx, core.StatusRunning, "")
	r.log.Info("session resumed", "session", sessionID, "turn", turnNumber)
}

// stopRequested reports whether the session should unwind as user-stopped:
// either the cooperative cancel flag or the run context.
func (r *run) stopRequested(ctx context.Context) bool {
	return r.state.IsCancelled() || ctx.Err() != nil
}

// belowCreditFloor reports whether the projected remaining balance cannot
// cover the next invocation. pending is 1 for a sequential turn and the
// editor count for a parallel batch.
func (r *run) belowCreditFloor(pending int) bool {
	if r.initialBalance < 0 {
		return false
	}
	return r.initialBalance-r.creditsUsed < creditFloorPerTurn*pending
}

// warnLowCredits emits the one-shot credit_warning once the projected
// remaining balance drops under the watermark.
func (r *run) warnLowCredits(ctx context.Context) {
	if r.initialBalance < 0 || r.creditWarned {
		return
	}
	remaining := r.initialBalance - r.creditsUsed
	if remaining < lowCreditWatermark {
		r.creditWarned = true
		r.forward(ctx, core.NewCreditWarningEvent(r.state.Config.SessionID, remaining, r.creditsUsed))
	}
}

// recordHealth reports a provider call outcome to the tracker. Context
// teardown says nothing about the provider and is not recorded.
func (r *run) recordHealth(kind core.ProviderKind, err error) {
	if r.engine.health == nil {
		return
	}
	if err == nil {
		r.engine.health.RecordSuccess(kind)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	r.engine.health.RecordFailure(kind, err.Error(), core.FaultOf(err) == core.FaultOverloaded)
}

// forward delivers an event to the handle's stream, blocking for backpressure
// until the client drains it. Events are dropped once the run context dies.
func (r *run) forward(ctx context.Context, ev core.Event) {
	select {
	case r.handle.events <- ev:
	case <-ctx.Done():
	}
}

// activeRoster returns the active agents in phase order, the order they run
// within a round.
func activeRoster(cfg core.SessionConfig) []core.AgentConfig {
	var roster []core.AgentConfig
	for _, phase := range []core.Phase{core.PhaseWriter, core.PhaseEditor, core.PhaseSynthesizer} {
		roster = append(roster, cfg.ActiveAgents(phase)...)
	}
	return roster
}

// Persistence below is strictly best-effort: a session survives its store.
// Failures are logged and the run continues; the event stream remains the
// authoritative record for connected clients.

func (r *run) persistCreate(ctx context.Context) {
	if r.engine.store == nil {
		return
	}
	sessionID := r.state.Config.SessionID
	if err := r.engine.store.CreateSession(ctx, r.state.Config, r.userID); err != nil {
		r.log.Warn("persist session failed", "session", sessionID, "error", err)
		return
	}
	if err := r.engine.store.UpdateStatus(ctx, sessionID, core.StatusRunning, ""); err != nil {
		r.log.Warn("persist status failed", "session", sessionID, "error", err)
	}
}

func (r *run) persistStatus(ctx context.Context, status core.Status, reason string) {
	if r.engine.store == nil {
		return
	}
	sessionID := r.state.Config.SessionID
	if err := r.engine.store.UpdateStatus(ctx, sessionID, status, reason); err != nil {
		r.log.Warn("persist status failed", "session", sessionID, "status", status, "error", err)
	}
}

func (r *run) persistRound(ctx context.Context, round int) {
	if r.engine.store == nil {
		return
	}
	sessionID := r.state.Config.SessionID
	if err := r.engine.store.UpdateRound(ctx, sessionID, round); err != nil {
		r.log.Warn("persist round failed", "session", sessionID, "round", round, "error", err)
	}
}

func (r *run) persistTurn(ctx context.Context, turn core.ExchangeTurn) {
	if r.engine.store == nil {
		return
	}
	sessionID := r.state.Config.SessionID
	if err := r.engine.store.AppendTurn(ctx, sessionID, turn); err != nil {
		r.log.Warn("persist turn failed", "session", sessionID, "turn", turn.TurnNumber, "error", err)
	}
	if turn.Phase == core.PhaseWriter {
		if err := r.engine.store.UpdateWorkingDocument(ctx, sessionID, turn.WorkingDocument); err != nil {
			r.log.Warn("persist document failed", "session", sessionID, "error", err)
		}
	}
}

func (r *run) persistDocument(ctx context.Context) {
	if r.engine.store == nil {
		return
	}
	sessionID := r.state.Config.SessionID
	if err := r.engine.store.UpdateWorkingDocument(ctx, sessionID, r.state.WorkingDocument()); err != nil {
		r.log.Warn("persist document failed", "session", sessionID, "error", err)
	}
}
