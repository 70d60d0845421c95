package core

import (
	"fmt"
	"strings"
)

// Phase categorizes an agent's role in a refinement round and determines both
// its prompt shape and its document-mutation rights. Phases execute in
// ascending order within every round.
type Phase int

const (
	// PhaseWriter produces or revises the working document. Its extracted
	// output becomes the new working document after the turn.
	PhaseWriter Phase = 1
	// PhaseEditor critiques the working document without mutating it.
	// All active editors of a round run concurrently.
	PhaseEditor Phase = 2
	// PhaseSynthesizer condenses the round's editorial feedback into a single
	// prioritized revision directive for the next writer turn.
	PhaseSynthesizer Phase = 3
)

// String returns the lowercase role name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWriter:
		return "writer"
	case PhaseEditor:
		return "editor"
	case PhaseSynthesizer:
		return "synthesizer"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Valid reports whether p is one of the three defined phases.
func (p Phase) Valid() bool {
	return p >= PhaseWriter && p <= PhaseSynthesizer
}

// ProviderKind identifies a generative-text backend family.
type ProviderKind string

const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderPerplexity ProviderKind = "perplexity"
)

// DraftTreatment tells the writer how aggressively a user-supplied draft may
// be reworked on the first turn.
type DraftTreatment string

const (
	DraftLightPolish      DraftTreatment = "light_polish"
	DraftModerateRevision DraftTreatment = "moderate_revision"
	DraftFreeRewrite      DraftTreatment = "free_rewrite"
)

// EvaluationCriterion names one dimension an agent scores itself against.
// Weight participates in weighted-score aggregation; zero means "use the
// default weight of 1.0".
type EvaluationCriterion struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Weight      float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// AgentConfig describes one participant in a refinement session. Configs are
// immutable once a session starts; the scheduler only reads them.
type AgentConfig struct {
	ID                 string                `json:"id" yaml:"id"`
	DisplayName        string                `json:"display_name" yaml:"display_name"`
	Provider           ProviderKind          `json:"provider" yaml:"provider"`
	Model              string                `json:"model" yaml:"model"`
	RoleDescription    string                `json:"role_description" yaml:"role_description"`
	EvaluationCriteria []EvaluationCriterion `json:"evaluation_criteria,omitempty" yaml:"evaluation_criteria,omitempty"`
	IsActive           bool                  `json:"is_active" yaml:"is_active"`
	Phase              Phase                 `json:"phase" yaml:"phase"`
}

// Name returns the display name, falling back to the ID when unset.
func (a AgentConfig) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.ID
}

// CriteriaNames returns the ordered criterion names, the shape the evaluation
// parser expects.
func (a AgentConfig) CriteriaNames() []string {
	names := make([]string, 0, len(a.EvaluationCriteria))
	for _, c := range a.EvaluationCriteria {
		names = append(names, c.Name)
	}
	return names
}

// Validate checks the structural constraints on a single agent config.
func (a AgentConfig) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("agent id must not be empty")
	}
	if !a.Phase.Valid() {
		return fmt.Errorf("agent %q: invalid phase %d", a.ID, int(a.Phase))
	}
	if a.Provider == "" {
		return fmt.Errorf("agent %q: provider must be set", a.ID)
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("agent %q: model must be set", a.ID)
	}
	for _, c := range a.EvaluationCriteria {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("agent %q: evaluation criterion with empty name", a.ID)
		}
		if c.Weight < 0 || c.Weight > 1 {
			return fmt.Errorf("agent %q: criterion %q weight %v outside [0,1]", a.ID, c.Name, c.Weight)
		}
	}
	return nil
}
