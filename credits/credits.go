// Package credits meters model usage. One credit buys ten thousand tokens at
// multiplier 1.0; expensive models scale up, cheap ones down. The package is
// pure functions and tables: balances live behind the ledger interface.
package credits

import (
	"math"

	"github.com/hupe1980/redraft/core"
)

// BaseTokensPerCredit is the conversion rate between raw tokens and credits.
const BaseTokensPerCredit = 10_000

// DefaultModel anchors estimates when an agent omits its model.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultInitialCredits is granted to new users: the free tier allocation.
const DefaultInitialCredits = 20

// modelMultipliers scales credit consumption by model cost. Models not in
// the table meter at 1.0.
var modelMultipliers = map[string]float64{
	// Anthropic
	"claude-opus-4-5-20251101":          5.0,
	"claude-sonnet-4-5-20250929":        1.0,
	"claude-sonnet-4-thinking-20250514": 1.5,
	"claude-3-5-haiku-20241022":         0.25,

	// Google
	"gemini-2.5-pro":   1.2,
	"gemini-2.5-flash": 0.4,
	"gemini-2.0-flash": 0.3,

	// OpenAI
	"gpt-4o":      1.0,
	"gpt-4o-mini": 0.25,
	"o1":          5.5,
	"o1-mini":     2.0,
	"o3-mini":     2.0,

	// Perplexity (includes web search)
	"sonar":           0.5,
	"sonar-pro":       1.5,
	"sonar-reasoning": 2.5,
}

// tierMonthlyCredits is the monthly allocation per subscription tier.
var tierMonthlyCredits = map[string]int{
	"free":       20,
	"starter":    150,
	"pro":        500,
	"enterprise": 2000,
}

// EstimateTokens approximates the token count of text when the backend does
// not report usage. Four characters per token is a workable heuristic for
// English prose; the floor of one keeps every response billable.
func EstimateTokens(text string) int {
	if n := len(text) / 4; n > 1 {
		return n
	}
	return 1
}

// ModelMultiplier returns the credit multiplier for a model, 1.0 for models
// not in the table.
func ModelMultiplier(model string) float64 {
	if m, ok := modelMultipliers[model]; ok {
		return m
	}
	return 1.0
}

// MultiplierTable returns a copy of the model multiplier table keyed by model
// identifier.
func MultiplierTable() map[string]float64 {
	table := make(map[string]float64, len(modelMultipliers))
	for model, multiplier := range modelMultipliers {
		table[model] = multiplier
	}
	return table
}

// CalculateCredits converts a completed invocation's token usage into whole
// credits, rounded up.
func CalculateCredits(model string, inputTokens, outputTokens int) int {
	base := float64(inputTokens+outputTokens) / BaseTokensPerCredit
	return int(math.Ceil(base * ModelMultiplier(model)))
}

// AgentTurnPlan is the estimator's sizing for one agent: projected tokens per
// turn and how many turns the agent takes across a session.
type AgentTurnPlan struct {
	InputTokens  int
	OutputTokens int
	Runs         int
}

// Credits projects the fractional credit cost of the planned turns for model.
// Session totals round the sum up once at the end rather than per agent.
func (p AgentTurnPlan) Credits(model string) float64 {
	if model == "" {
		model = DefaultModel
	}
	perTurn := float64(p.InputTokens+p.OutputTokens) / BaseTokensPerCredit * ModelMultiplier(model)
	return perTurn * float64(p.Runs)
}

// PlanAgentTurns sizes one agent's share of a session. Per-turn input depends
// on the role: a writer sees the task, the document and the synthesizer
// directive (500 token overhead plus the document); an editor sees the
// document and its instructions (300 plus document); a synthesizer
// additionally carries every editor's feedback (800 tokens per editor). Each
// turn is assumed to produce roughly 1000 output tokens. Writers run
// maxRounds+1 times to cover the closing polish pass; everyone else runs
// maxRounds times.
func PlanAgentTurns(agent core.AgentConfig, editorCount, maxRounds, documentWords int) AgentTurnPlan {
	documentTokens := int(float64(documentWords) * 1.5)

	var inputTokens int
	switch agent.Phase {
	case core.PhaseWriter:
		inputTokens = 500 + documentTokens
	case core.PhaseSynthesizer:
		inputTokens = 300 + documentTokens + editorCount*800
	default:
		inputTokens = 300 + documentTokens
	}

	runs := maxRounds
	if agent.Phase == core.PhaseWriter {
		runs = maxRounds + 1
	}

	return AgentTurnPlan{InputTokens: inputTokens, OutputTokens: 1000, Runs: runs}
}

// EstimateSessionCredits predicts a session's total cost before it starts by
// summing every agent's planned turns.
//
// The estimate grows monotonically with rounds and document size. Callers
// pass the agents that will actually run, normally SessionConfig.ActiveAgents.
func EstimateSessionCredits(agents []core.AgentConfig, maxRounds, documentWords int) int {
	editorCount := 0
	for _, a := range agents {
		if a.Phase == core.PhaseEditor {
			editorCount++
		}
	}

	var total float64
	for _, agent := range agents {
		total += PlanAgentTurns(agent, editorCount, maxRounds, documentWords).Credits(agent.Model)
	}

	return int(math.Ceil(total))
}

// TierCredits returns the monthly allocation for a subscription tier. Unknown
// tiers fall back to the free allocation.
func TierCredits(tier string) int {
	if c, ok := tierMonthlyCredits[tier]; ok {
		return c
	}
	return tierMonthlyCredits["free"]
}
