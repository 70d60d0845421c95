package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/internal/util"
)

// NoFeedbackPlaceholder is substituted when a round produced no editorial
// feedback to aggregate.
const NoFeedbackPlaceholder = "(No editorial feedback from previous round)"

// Composer builds the system and user prompts for agent turns. It is
// stateless and safe for concurrent use across sessions.
type Composer struct{}

// NewComposer returns a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// SystemPrompt builds the agent's system prompt: rendered role description,
// the fixed multi-agent statement, and the agent's evaluation criteria.
func (c *Composer) SystemPrompt(agent core.AgentConfig, state *core.SessionState) string {
	var b strings.Builder

	b.WriteString(c.renderRole(agent, state))
	b.WriteString("\n\nYou are participating in a multi-agent writing refinement process.")
	b.WriteString("\n\nYour evaluation criteria are:")

	for _, criterion := range agent.EvaluationCriteria {
		b.WriteString(fmt.Sprintf("\n- %s: %s", criterion.Name, criterion.Description))
	}

	return b.String()
}

// UserPrompt assembles the complete user prompt for a turn: reference
// materials, exchange history, the working document, the phase-specific task
// and the evaluation format block.
func (c *Composer) UserPrompt(agent core.AgentConfig, state *core.SessionState, firstTurn, finalPass bool) string {
	var b strings.Builder

	c.writeReferenceMaterials(&b, state.Config)
	c.writeExchangeHistory(&b, state)
	c.writeWorkingDocument(&b, state)

	b.WriteString("\n=== YOUR TASK ===\n")
	b.WriteString(c.taskInstructions(agent, state, firstTurn, finalPass))

	b.WriteString("\n\n=== EVALUATION FORMAT ===\n")
	c.writeEvaluationFormat(&b, agent)

	return b.String()
}

func (c *Composer) writeReferenceMaterials(b *strings.Builder, cfg core.SessionConfig) {
	if len(cfg.ReferenceDocuments) == 0 {
		return
	}

	b.WriteString("=== REFERENCE MATERIALS ===\n")
	b.WriteString("(These are supporting documents for context only. Do NOT edit these.)\n")

	if cfg.ReferenceInstructions != "" {
		b.WriteString(fmt.Sprintf("\nHow to use these materials: %s\n", cfg.ReferenceInstructions))
	}

	// Stable order; map iteration would shuffle the prompt between turns.
	filenames := make([]string, 0, len(cfg.ReferenceDocuments))
	for filename := range cfg.ReferenceDocuments {
		filenames = append(filenames, filename)
	}
	sort.Strings(filenames)

	for _, filename := range filenames {
		b.WriteString(fmt.Sprintf("\n--- %s ---\n%s\n", filename, cfg.ReferenceDocuments[filename]))
	}

	b.WriteString("\n")
}

func (c *Composer) writeExchangeHistory(b *strings.Builder, state *core.SessionState) {
	history := state.History()
	if len(history) == 0 {
		return
	}

	b.WriteString("=== EXCHANGE HISTORY ===\n")

	for _, turn := range history {
		b.WriteString(fmt.Sprintf("\n[Round %d, Turn %d] %s:\n", turn.RoundNumber, turn.TurnNumber, turn.AgentName))
		b.WriteString(fmt.Sprintf("%s\n", turn.Output))

		if turn.Evaluation != nil {
			b.WriteString(fmt.Sprintf("\nEvaluation (Overall: %.1f/10):\n", turn.Evaluation.OverallScore))
			for _, cs := range turn.Evaluation.CriteriaScores {
				b.WriteString(fmt.Sprintf("  - %s: %v/10 - %s\n", cs.Criterion, cs.Score, cs.Justification))
			}
		}
	}

	b.WriteString("\n")
}

func (c *Composer) writeWorkingDocument(b *strings.Builder, state *core.SessionState) {
	doc := state.WorkingDocument()
	if doc == "" {
		return
	}

	b.WriteString("=== WORKING DOCUMENT ===\n")
	b.WriteString("(This is the central document you are writing/editing.)\n\n")
	b.WriteString(fmt.Sprintf("%s\n", doc))
}

func (c *Composer) writeEvaluationFormat(b *strings.Builder, agent core.AgentConfig) {
	b.WriteString(
		"After completing your task, provide a structured evaluation in the following JSON format:\n\n" +
			"```json\n" +
			"{\n" +
			"  \"output\": \"Your revised text or critique goes here\",\n" +
			"  \"evaluation\": {\n" +
			"    \"criteria_scores\": [\n",
	)

	for _, criterion := range agent.EvaluationCriteria {
		b.WriteString(fmt.Sprintf("      {\"criterion\": %q, \"score\": 7, \"justification\": \"Brief explanation\"},\n", criterion.Name))
	}

	b.WriteString(
		"    ],\n" +
			"    \"overall_score\": 7.5,\n" +
			"    \"summary\": \"Brief overall assessment\"\n" +
			"  }\n" +
			"}\n" +
			"```\n\n" +
			"Score each criterion from 1-10. The overall score should be the average of criterion scores.\n",
	)
}

// AggregateEditorFeedback collects the round's non-writer outputs into one
// block: a `### <agent name>` section per turn, separated by `---`. Includes
// the synthesizer's directive when the round has one.
func (c *Composer) AggregateEditorFeedback(state *core.SessionState, round int) string {
	var parts []string

	for _, turn := range state.TurnsForRound(round, 0) {
		if turn.Phase == core.PhaseWriter {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s\n", turn.AgentName, turn.Output))
	}

	if len(parts) == 0 {
		return NoFeedbackPlaceholder
	}

	return strings.Join(parts, "\n---\n")
}

// renderRole expands {{.placeholders}} in the role description with session
// values. A template that fails to parse or execute is used verbatim.
func (c *Composer) renderRole(agent core.AgentConfig, state *core.SessionState) string {
	role := agent.RoleDescription
	if state == nil {
		return role
	}

	rendered, err := util.RenderTemplate(role, map[string]any{
		"Title":     state.Config.Title,
		"SessionID": state.Config.SessionID,
		"AgentName": agent.Name(),
		"AgentID":   agent.ID,
		"Round":     state.CurrentRound(),
		"MaxRounds": state.Config.Termination.MaxRounds,
	})
	if err != nil {
		return role
	}

	return rendered
}
