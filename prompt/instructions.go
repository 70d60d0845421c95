package prompt

import (
	"fmt"

	"github.com/hupe1980/redraft/core"
)

const editorBase = "Review the WORKING DOCUMENT above and provide your editorial feedback.\n\n"

// editorRoleInstructions are keyed by agent ID. Unknown editors get a generic
// critique-only instruction.
var editorRoleInstructions = map[string]string{
	"content_expert": "Focus on: accuracy, completeness, intellectual depth. Flag oversimplifications, gaps, and claims that overreach evidence. Suggest specific additions.\n\nDo NOT rewrite the document. Provide feedback only.",
	"style_editor":   "Focus on: sentence rhythm, word choice, transitions, clarity, economy. Cut throat-clearing, redundancy, jargon. Preserve the author's voice.\n\nDo NOT rewrite the document. Provide feedback only.",
	"fact_checker":   "Focus on: verifiable claims, statistics, attributions. For each issue, specify what's claimed, why it's problematic, and what would resolve it.\n\nDo NOT rewrite the document. Provide feedback only.",
}

const synthesizerInstructions = `Review all editorial feedback from this round and produce a PRIORITIZED REVISION DIRECTIVE.

Your output should be:
1. A clear hierarchy of what MUST change, what SHOULD change, and what can be ignored
2. When editors conflict, make the call and explain your reasoning
3. Specific, actionable direction for the Writer

Do NOT rewrite the document. Produce a revision directive only.`

// draftDirectives tell the writer how far a user-supplied draft may be
// reworked on the first turn.
var draftDirectives = map[core.DraftTreatment]string{
	core.DraftLightPolish:      "The working document above is the user's draft and is close to final. Limit changes to grammar, word choice, and sentence-level polish. Do NOT restructure it or add new material.",
	core.DraftModerateRevision: "The working document above is the user's draft. Strengthen its structure, clarity, and flow; you may reorder and expand where it serves the work, but preserve the author's core argument and voice.",
	core.DraftFreeRewrite:      "The working document above is the user's draft, offered as raw material. You may restructure, cut, or rewrite it freely; keep only what serves the strongest version of the piece.",
}

// taskInstructions selects the phase-specific task text for the turn.
func (c *Composer) taskInstructions(agent core.AgentConfig, state *core.SessionState, firstTurn, finalPass bool) string {
	if firstTurn {
		return c.firstTurnInstructions(state.Config)
	}

	switch agent.Phase {
	case core.PhaseWriter:
		// A regular revision consumes the previous round's feedback. The
		// final polish pass runs after the synthesizer inside the same round,
		// so its directive lives in the current round.
		feedbackRound := state.CurrentRound() - 1
		if finalPass {
			feedbackRound = state.CurrentRound()
		}
		return c.writerRevisionInstructions(state, feedbackRound)
	case core.PhaseEditor:
		return c.editorInstructions(agent)
	case core.PhaseSynthesizer:
		return synthesizerInstructions
	default:
		return "Review and provide feedback on the current draft."
	}
}

func (c *Composer) firstTurnInstructions(cfg core.SessionConfig) string {
	directive := draftDirectives[cfg.DraftTreatment]
	if cfg.WorkingDocument == "" || directive == "" {
		return cfg.InitialPrompt
	}

	return directive + "\n\n" + cfg.InitialPrompt
}

func (c *Composer) writerRevisionInstructions(state *core.SessionState, feedbackRound int) string {
	feedback := c.AggregateEditorFeedback(state, feedbackRound)

	return fmt.Sprintf(`Revise your draft based on the editorial feedback below.

=== EDITORIAL FEEDBACK ===
%s
===========================

Instructions:
- Incorporate feedback that strengthens the work
- Push back (in your self-evaluation) on suggestions that would weaken it
- Preserve what's working
- Produce a complete revised draft`, feedback)
}

func (c *Composer) editorInstructions(agent core.AgentConfig) string {
	instructions, ok := editorRoleInstructions[agent.ID]
	if !ok {
		instructions = "Provide editorial feedback. Do NOT rewrite the document."
	}

	return editorBase + instructions
}
