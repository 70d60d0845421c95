package core

import (
	"fmt"
	"sync"
)

// Default bounds applied by SessionConfig.Validate.
const (
	DefaultMaxRounds = 5
	MaxAgents        = 5
)

// Status is the lifecycle state a session is persisted under.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends a session's run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	default:
		return false
	}
}

// TerminationCondition bounds a session. MaxRounds is always enforced;
// ScoreThreshold is optional (zero means unset) and terminates the session
// early once the most recent synthesizer evaluation meets it.
type TerminationCondition struct {
	MaxRounds      int     `json:"max_rounds" yaml:"max_rounds"`
	ScoreThreshold float64 `json:"score_threshold,omitempty" yaml:"score_threshold,omitempty"`
}

// SessionConfig is the immutable description of a refinement session. It is
// created once at session start and read-only to the scheduler.
type SessionConfig struct {
	SessionID             string               `json:"session_id" yaml:"session_id"`
	Title                 string               `json:"title" yaml:"title"`
	ProjectID             string               `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Agents                []AgentConfig        `json:"agents" yaml:"agents"`
	Termination           TerminationCondition `json:"termination" yaml:"termination"`
	InitialPrompt         string               `json:"initial_prompt" yaml:"initial_prompt"`
	WorkingDocument       string               `json:"working_document,omitempty" yaml:"working_document,omitempty"`
	ReferenceDocuments    map[string]string    `json:"reference_documents,omitempty" yaml:"reference_documents,omitempty"`
	ReferenceInstructions string               `json:"reference_instructions,omitempty" yaml:"reference_instructions,omitempty"`
	DraftTreatment        DraftTreatment       `json:"draft_treatment,omitempty" yaml:"draft_treatment,omitempty"`
}

// Validate checks the structural constraints the engine relies on. It mutates
// nothing; defaulting (session ID, max rounds) is the caller's concern.
func (c *SessionConfig) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("session must configure at least one agent")
	}
	if len(c.Agents) > MaxAgents {
		return fmt.Errorf("session configures %d agents, maximum is %d", len(c.Agents), MaxAgents)
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if c.Termination.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be >= 1, got %d", c.Termination.MaxRounds)
	}
	if t := c.Termination.ScoreThreshold; t != 0 && (t < 1 || t > 10) {
		return fmt.Errorf("score_threshold must be between 1 and 10, got %v", t)
	}
	switch c.DraftTreatment {
	case "", DraftLightPolish, DraftModerateRevision, DraftFreeRewrite:
	default:
		return fmt.Errorf("unknown draft_treatment %q", c.DraftTreatment)
	}
	return nil
}

// Clone returns a deep copy safe for independent mutation.
func (c SessionConfig) Clone() SessionConfig {
	clone := c
	clone.Agents = make([]AgentConfig, len(c.Agents))
	for i, a := range c.Agents {
		clone.Agents[i] = a
		clone.Agents[i].EvaluationCriteria = append([]EvaluationCriterion(nil), a.EvaluationCriteria...)
	}
	if c.ReferenceDocuments != nil {
		clone.ReferenceDocuments = make(map[string]string, len(c.ReferenceDocuments))
		for k, v := range c.ReferenceDocuments {
			clone.ReferenceDocuments[k] = v
		}
	}
	return clone
}

// ActiveAgents returns the active agents of the given phase in configured order.
func (c SessionConfig) ActiveAgents(phase Phase) []AgentConfig {
	var agents []AgentConfig
	for _, a := range c.Agents {
		if a.IsActive && a.Phase == phase {
			agents = append(agents, a)
		}
	}
	return agents
}

// Writer returns the first active phase-1 agent, or nil when none is active.
func (c SessionConfig) Writer() *AgentConfig {
	agents := c.ActiveAgents(PhaseWriter)
	if len(agents) == 0 {
		return nil
	}
	return &agents[0]
}

// Editors returns all active phase-2 agents in configured order.
func (c SessionConfig) Editors() []AgentConfig {
	return c.ActiveAgents(PhaseEditor)
}

// Synthesizer returns the first active phase-3 agent, or nil when none is active.
func (c SessionConfig) Synthesizer() *AgentConfig {
	agents := c.ActiveAgents(PhaseSynthesizer)
	if len(agents) == 0 {
		return nil
	}
	return &agents[0]
}

// SessionState owns everything that changes while a session runs: the
// append-only exchange history, the evolving working document, the round and
// turn counters and the control flags. It is safe for concurrent access.
//
// Contract:
//   - The scheduler is the sole writer of history, document and counters
//   - Pause/Cancel flags may be flipped by an external controller at any time
//   - History returns defensive copies so callers cannot mutate recorded turns
//   - Turn numbers are allocated through NextTurn/ReserveTurns and are never
//     reused, so numbering stays monotonic across parallel completion order
type SessionState struct {
	Config SessionConfig

	mu                sync.RWMutex
	history           []ExchangeTurn
	workingDocument   string
	currentRound      int
	turnCounter       int
	running           bool
	paused            bool
	cancelled         bool
	terminationReason string
}

// NewSessionState seeds mutable state from the immutable config.
func NewSessionState(cfg SessionConfig) *SessionState {
	return &SessionState{
		Config:          cfg,
		workingDocument: cfg.WorkingDocument,
	}
}

// AppendTurn records a completed turn.
func (s *SessionState) AppendTurn(t ExchangeTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
}

// History returns a deep copy of the exchange history.
func (s *SessionState) History() []ExchangeTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]ExchangeTurn, len(s.history))
	for i, t := range s.history {
		turns[i] = t.Clone()
	}
	return turns
}

// TurnsForRound returns deep copies of the round's turns filtered by phase.
// A zero phase matches every phase.
func (s *SessionState) TurnsForRound(round int, phase Phase) []ExchangeTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []ExchangeTurn
	for _, t := range s.history {
		if t.RoundNumber != round {
			continue
		}
		if phase != 0 && t.Phase != phase {
			continue
		}
		turns = append(turns, t.Clone())
	}
	return turns
}

// LatestEvaluation scans the history backwards for the most recent turn of the
// given phase and returns its evaluation. Either may be nil: no such turn, or
// a turn whose evaluation failed to parse.
func (s *SessionState) LatestEvaluation(phase Phase) (*ExchangeTurn, *Evaluation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Phase == phase {
			t := s.history[i].Clone()
			return &t, t.Evaluation
		}
	}
	return nil, nil
}

// TurnCount returns the number of recorded turns.
func (s *SessionState) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// NextTurn allocates the next global turn number.
func (s *SessionState) NextTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCounter++
	return s.turnCounter
}

// ReserveTurns allocates n consecutive turn numbers and returns the first.
// Used to pre-assign numbers to a parallel batch before launching it.
func (s *SessionState) ReserveTurns(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.turnCounter + 1
	s.turnCounter += n
	return first
}

// WorkingDocument returns the current document text.
func (s *SessionState) WorkingDocument() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workingDocument
}

// SetWorkingDocument replaces the document text; only writer turns do this.
func (s *SessionState) SetWorkingDocument(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workingDocument = text
}

// CurrentRound returns the current round counter.
func (s *SessionState) CurrentRound() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRound
}

// BeginRound increments and returns the round counter.
func (s *SessionState) BeginRound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRound++
	return s.currentRound
}

// SetRunning flips the running flag.
func (s *SessionState) SetRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
}

// IsRunning reports whether the session loop is active.
func (s *SessionState) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Pause requests a cooperative pause at the next sequential checkpoint.
func (s *SessionState) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume clears a pending or active pause.
func (s *SessionState) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// IsPaused reports whether a pause is requested or active.
func (s *SessionState) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Cancel requests a cooperative stop at the next checkpoint.
func (s *SessionState) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// IsCancelled reports whether a stop was requested.
func (s *SessionState) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// SetTerminationReason records why the session ended. The first reason wins.
func (s *SessionState) SetTerminationReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminationReason == "" {
		s.terminationReason = reason
	}
}

// TerminationReason returns the recorded reason, empty while running.
func (s *SessionState) TerminationReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminationReason
}

// Snapshot is a point-in-time, copy-safe view of session state.
type Snapshot struct {
	SessionID         string         `json:"session_id"`
	CurrentRound      int            `json:"current_round"`
	Turns             []ExchangeTurn `json:"turns"`
	WorkingDocument   string         `json:"working_document"`
	Running           bool           `json:"running"`
	Paused            bool           `json:"paused"`
	Cancelled         bool           `json:"cancelled"`
	TerminationReason string         `json:"termination_reason,omitempty"`
}

// Snapshot captures the current state under a single read lock.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]ExchangeTurn, len(s.history))
	for i, t := range s.history {
		turns[i] = t.Clone()
	}
	return Snapshot{
		SessionID:         s.Config.SessionID,
		CurrentRound:      s.currentRound,
		Turns:             turns,
		WorkingDocument:   s.workingDocument,
		Running:           s.running,
		Paused:            s.paused,
		Cancelled:         s.cancelled,
		TerminationReason: s.terminationReason,
	}
}
