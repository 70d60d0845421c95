package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names the semantic category of an Event. The values are part of
// the wire contract: clients key rendering and state machines off them, so
// they never change once published.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventRoundStart      EventType = "round_start"
	EventAgentStart      EventType = "agent_start"
	EventAgentToken      EventType = "agent_token"
	EventAgentComplete   EventType = "agent_complete"
	EventRoundComplete   EventType = "round_complete"
	EventCreditWarning   EventType = "credit_warning"
	EventSessionPaused   EventType = "session_paused"
	EventSessionResumed  EventType = "session_resumed"
	EventSessionComplete EventType = "session_complete"
	EventError           EventType = "error"
)

// Event is the unit of communication between the scheduler and external
// clients. After emission it must be treated as immutable. It captures:
//   - Correlation (Type, SessionID)
//   - A high precision UTC timestamp
//   - A type-specific payload (Data)
//
// On the wire an event is a single flat JSON object: the envelope fields
// (type, session_id, timestamp) and the payload keys live side by side.
// Prefer the typed constructors below over building Data by hand; they fix
// the payload key set per event type.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Data      map[string]any
}

// NewEvent creates an event of the given type bound to a session, stamped
// with the current UTC time. Data may be nil for payload-free events.
func NewEvent(typ EventType, sessionID string, data map[string]any) Event {
	return Event{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// MarshalJSON flattens the event into a single JSON object. Payload keys
// never collide with the envelope keys; if one does, the envelope wins.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Data)+3)
	for k, v := range e.Data {
		flat[k] = v
	}
	flat["type"] = string(e.Type)
	flat["session_id"] = e.SessionID
	flat["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON: the envelope fields are lifted
// out and every remaining key lands in Data.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if v, ok := flat["type"].(string); ok {
		e.Type = EventType(v)
	}
	if v, ok := flat["session_id"].(string); ok {
		e.SessionID = v
	}
	if v, ok := flat["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Timestamp = ts
		}
	}
	delete(flat, "type")
	delete(flat, "session_id")
	delete(flat, "timestamp")
	if len(flat) > 0 {
		e.Data = flat
	} else {
		e.Data = nil
	}
	return nil
}

// NewID generates a unique identifier for sessions and invocations.
func NewID() string { return uuid.NewString() }

// Termination reasons reported on session_complete events. ReasonStoppedByUser
// and ReasonInsufficientCredits are recorded as the session's termination
// reason; ReasonCreditDepleted is the machine token the credit-depletion
// session_complete event carries in its reason field.
const (
	ReasonStoppedByUser       = "Stopped by user"
	ReasonInsufficientCredits = "Insufficient credits"
	ReasonCreditDepleted      = "credit_depleted"
)

// MaxRoundsReason renders the termination reason for a session that ran its
// full round allotment.
func MaxRoundsReason(maxRounds int) string {
	return fmt.Sprintf("Maximum rounds reached (%d)", maxRounds)
}

// QualityTargetReason renders the termination reason for a session stopped
// early because an evaluation crossed the configured score threshold.
func QualityTargetReason(agentName string, score, target float64) string {
	return fmt.Sprintf("Quality target reached: %s scored %.1f (target: %.1f)", agentName, score, target)
}

// NewSessionStartEvent announces that a session has begun, carrying the agent
// roster so clients can render participants before any turn completes.
func NewSessionStartEvent(sessionID string, agents []AgentConfig, maxRounds int) Event {
	roster := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		roster = append(roster, map[string]any{
			"id":    a.ID,
			"name":  a.Name(),
			"phase": int(a.Phase),
		})
	}
	return NewEvent(EventSessionStart, sessionID, map[string]any{
		"agent_count": len(agents),
		"agents":      roster,
		"max_rounds":  maxRounds,
	})
}

// NewRoundStartEvent marks the beginning of a refinement round. finalPass is
// set only for the closing writer pass after termination.
func NewRoundStartEvent(sessionID string, round, maxRounds int, finalPass bool) Event {
	data := map[string]any{
		"round":      round,
		"max_rounds": maxRounds,
	}
	if finalPass {
		data["is_final_pass"] = true
	}
	return NewEvent(EventRoundStart, sessionID, data)
}

// NewAgentStartEvent marks the beginning of a single agent invocation. The
// turn number is already assigned at this point even if the invocation later
// fails.
func NewAgentStartEvent(sessionID string, agent AgentConfig, turnNumber, roundNumber int, finalPass bool) Event {
	data := map[string]any{
		"agent_id":     agent.ID,
		"agent_name":   agent.Name(),
		"turn_number":  turnNumber,
		"round_number": roundNumber,
		"phase":        int(agent.Phase),
	}
	if finalPass {
		data["is_final_pass"] = true
	}
	return NewEvent(EventAgentStart, sessionID, data)
}

// NewAgentTokenEvent carries one streamed text fragment. Token events are the
// only high-frequency event type; their payload is deliberately minimal.
func NewAgentTokenEvent(sessionID, agentID, token string) Event {
	return NewEvent(EventAgentToken, sessionID, map[string]any{
		"agent_id": agentID,
		"token":    token,
	})
}

// NewAgentCompleteEvent reports a finished turn with its evaluation summary
// (null when parsing found none) and the usage block clients bill against.
func NewAgentCompleteEvent(sessionID string, turn ExchangeTurn, sessionTotalCredits int, finalPass bool) Event {
	var eval any
	if turn.Evaluation != nil {
		scores := make([]map[string]any, 0, len(turn.Evaluation.CriteriaScores))
		for _, cs := range turn.Evaluation.CriteriaScores {
			scores = append(scores, map[string]any{
				"criterion": cs.Criterion,
				"score":     cs.Score,
			})
		}
		eval = map[string]any{
			"overall_score":   turn.Evaluation.OverallScore,
			"criteria_scores": scores,
		}
	}
	data := map[string]any{
		"agent_id":      turn.AgentID,
		"agent_name":    turn.AgentName,
		"turn_number":   turn.TurnNumber,
		"evaluation":    eval,
		"output_length": len(turn.Output),
		"usage": map[string]any{
			"input_tokens":          turn.TokensInput,
			"output_tokens":         turn.TokensOutput,
			"credits_used":          turn.CreditsUsed,
			"session_total_credits": sessionTotalCredits,
		},
	}
	if finalPass {
		data["is_final_pass"] = true
	}
	return NewEvent(EventAgentComplete, sessionID, data)
}

// NewRoundCompleteEvent closes a round, reporting how many turns it recorded.
func NewRoundCompleteEvent(sessionID string, round, turnsInRound int) Event {
	return NewEvent(EventRoundComplete, sessionID, map[string]any{
		"round":          round,
		"turns_in_round": turnsInRound,
	})
}

// LowCreditMessage is the human-readable banner attached to credit_warning
// events.
const LowCreditMessage = "Low credits - session may stop soon"

// NewCreditWarningEvent warns that the remaining balance is nearly exhausted.
// The scheduler emits it at most once per session.
func NewCreditWarningEvent(sessionID string, remaining, sessionUsed int) Event {
	return NewEvent(EventCreditWarning, sessionID, map[string]any{
		"remaining_credits":    remaining,
		"session_credits_used": sessionUsed,
		"message":              LowCreditMessage,
	})
}

// NewSessionPausedEvent reports that the scheduler honored a pause request at
// a turn boundary.
func NewSessionPausedEvent(sessionID, afterAgent string, turnNumber, roundNumber int) Event {
	return NewEvent(EventSessionPaused, sessionID, map[string]any{
		"after_agent":  afterAgent,
		"turn_number":  turnNumber,
		"round_number": roundNumber,
	})
}

// NewSessionResumedEvent reports that a paused session is running again.
func NewSessionResumedEvent(sessionID string, turnNumber, roundNumber int) Event {
	return NewEvent(EventSessionResumed, sessionID, map[string]any{
		"turn_number":  turnNumber,
		"round_number": roundNumber,
	})
}

// NewSessionCompleteEvent is the terminal event of every session, whatever
// the outcome. reason is one of the termination reason strings above.
func NewSessionCompleteEvent(sessionID, reason string, roundsCompleted, turnsCompleted int) Event {
	return NewEvent(EventSessionComplete, sessionID, map[string]any{
		"reason":           reason,
		"rounds_completed": roundsCompleted,
		"turns_completed":  turnsCompleted,
	})
}

// NewCreditDepletedEvent is the session_complete variant for sessions cut
// short by an exhausted balance. It additionally reports what the session
// consumed so clients can reconcile.
func NewCreditDepletedEvent(sessionID string, roundsCompleted, turnsCompleted, creditsUsed int) Event {
	return NewEvent(EventSessionComplete, sessionID, map[string]any{
		"reason":           ReasonCreditDepleted,
		"message":          "Session stopped: insufficient credits remaining",
		"rounds_completed": roundsCompleted,
		"turns_completed":  turnsCompleted,
		"credits_used":     creditsUsed,
	})
}

// NewErrorEvent reports a session-scoped failure.
func NewErrorEvent(sessionID, message string) Event {
	return NewEvent(EventError, sessionID, map[string]any{
		"message": message,
	})
}

// NewAgentErrorEvent reports a failure scoped to a single agent invocation.
// The round continues; only the named agent's turn is skipped.
func NewAgentErrorEvent(sessionID, agentID, message string) Event {
	return NewEvent(EventError, sessionID, map[string]any{
		"agent_id": agentID,
		"message":  message,
	})
}
