package core

import "time"

// CriterionScore is one scored dimension of an agent's self-evaluation.
type CriterionScore struct {
	Criterion     string  `json:"criterion"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification,omitempty"`
}

// Evaluation is the structured score-set recovered from an agent's free-text
// response. CriteriaScores preserves the order the criteria were configured
// (or discovered) in.
type Evaluation struct {
	CriteriaScores []CriterionScore `json:"criteria_scores"`
	OverallScore   float64          `json:"overall_score"`
	Summary        string           `json:"summary,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	clone := &Evaluation{
		CriteriaScores: make([]CriterionScore, len(e.CriteriaScores)),
		OverallScore:   e.OverallScore,
		Summary:        e.Summary,
	}
	copy(clone.CriteriaScores, e.CriteriaScores)
	return clone
}

// ExchangeTurn records one completed agent invocation. Turns are append-only;
// one is created per invocation that produced output (a failed invocation
// consumes its turn number but records nothing).
//
// WorkingDocument is the document snapshot *after* this turn: for a writer
// turn it equals the extracted output, for editor and synthesizer turns it
// equals the document before the turn.
type ExchangeTurn struct {
	TurnNumber      int         `json:"turn_number"`
	RoundNumber     int         `json:"round_number"`
	Phase           Phase       `json:"phase"`
	AgentID         string      `json:"agent_id"`
	AgentName       string      `json:"agent_name"`
	Timestamp       time.Time   `json:"timestamp"`
	Output          string      `json:"output"`
	RawResponse     string      `json:"raw_response,omitempty"`
	Evaluation      *Evaluation `json:"evaluation,omitempty"`
	ParseError      string      `json:"parse_error,omitempty"`
	WorkingDocument string      `json:"working_document"`
	TokensInput     int         `json:"tokens_input"`
	TokensOutput    int         `json:"tokens_output"`
	CreditsUsed     int         `json:"credits_used"`
}

// Clone returns a deep copy of the turn including its evaluation.
func (t ExchangeTurn) Clone() ExchangeTurn {
	clone := t
	clone.Evaluation = t.Evaluation.Clone()
	return clone
}
