package credits

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/redraft/core"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestCalculateCredits(t *testing.T) {
	// 10k tokens at multiplier 1.0 is exactly one credit.
	assert.Equal(t, 1, CalculateCredits("gpt-4o", 5_000, 5_000))

	// Fractions always round up.
	assert.Equal(t, 2, CalculateCredits("gpt-4o", 10_000, 1))
	assert.Equal(t, 1, CalculateCredits("gpt-4o", 1, 0))

	// Cheap and expensive multipliers.
	assert.Equal(t, 1, CalculateCredits("claude-3-5-haiku-20241022", 20_000, 20_000))
	assert.Equal(t, 5, CalculateCredits("claude-opus-4-5-20251101", 5_000, 5_000))

	// Unknown models meter at 1.0.
	assert.Equal(t, 3, CalculateCredits("some-future-model", 15_000, 10_000))
}

func TestModelMultiplier(t *testing.T) {
	assert.Equal(t, 0.5, ModelMultiplier("sonar"))
	assert.Equal(t, 1.0, ModelMultiplier("unlisted"))
}

func TestMultiplierTableIsACopy(t *testing.T) {
	table := MultiplierTable()
	table["gpt-4o"] = 99

	assert.Equal(t, 1.0, ModelMultiplier("gpt-4o"))
}

func TestEstimateSessionCredits(t *testing.T) {
	agents := []core.AgentConfig{
		{ID: "writer", Model: "claude-sonnet-4-5-20250929", Phase: core.PhaseWriter},
		{ID: "editor-1", Model: "gpt-4o", Phase: core.PhaseEditor},
		{ID: "editor-2", Model: "gpt-4o", Phase: core.PhaseEditor},
		{ID: "synth", Model: "claude-sonnet-4-5-20250929", Phase: core.PhaseSynthesizer},
	}

	estimate := EstimateSessionCredits(agents, 3, 0)
	assert.Greater(t, estimate, 0)

	// Monotone in rounds.
	assert.GreaterOrEqual(t, EstimateSessionCredits(agents, 4, 0), estimate)
	assert.GreaterOrEqual(t, EstimateSessionCredits(agents, 10, 0), EstimateSessionCredits(agents, 4, 0))

	// Monotone in document size.
	assert.GreaterOrEqual(t, EstimateSessionCredits(agents, 3, 5_000), estimate)
	assert.GreaterOrEqual(t, EstimateSessionCredits(agents, 3, 50_000), EstimateSessionCredits(agents, 3, 5_000))
}

func TestPlanAgentTurns(t *testing.T) {
	writer := core.AgentConfig{ID: "w", Model: "gpt-4o", Phase: core.PhaseWriter}
	synth := core.AgentConfig{ID: "s", Model: "gpt-4o", Phase: core.PhaseSynthesizer}

	wp := PlanAgentTurns(writer, 2, 3, 1_000)
	assert.Equal(t, 500+1_500, wp.InputTokens)
	assert.Equal(t, 1_000, wp.OutputTokens)
	assert.Equal(t, 4, wp.Runs)

	// Synthesizer input carries 800 tokens of feedback per editor.
	sp := PlanAgentTurns(synth, 2, 3, 0)
	assert.Equal(t, 300+1_600, sp.InputTokens)
	assert.Equal(t, 3, sp.Runs)

	// Per-agent plans sum to the session estimate before the final ceil.
	agents := []core.AgentConfig{writer, synth}
	var total float64
	for _, a := range agents {
		total += PlanAgentTurns(a, 0, 3, 0).Credits(a.Model)
	}
	assert.Equal(t, EstimateSessionCredits(agents, 3, 0), int(math.Ceil(total)))
}

func TestEstimateSessionCreditsWriterRunsExtraPass(t *testing.T) {
	writerOnly := []core.AgentConfig{{ID: "w", Model: "gpt-4o", Phase: core.PhaseWriter}}

	// One round means two writer runs: (500+1000)*2 tokens = 0.3 credits, ceil 1.
	assert.Equal(t, 1, EstimateSessionCredits(writerOnly, 1, 0))

	// Large document dominates: 10k words = 15k tokens per run, two runs plus
	// overhead = 33k tokens = 3.3 credits, ceil 4.
	assert.Equal(t, 4, EstimateSessionCredits(writerOnly, 1, 10_000))
}

func TestTierCredits(t *testing.T) {
	assert.Equal(t, 20, TierCredits("free"))
	assert.Equal(t, 150, TierCredits("starter"))
	assert.Equal(t, 500, TierCredits("pro"))
	assert.Equal(t, 2000, TierCredits("enterprise"))
	assert.Equal(t, 20, TierCredits("no-such-tier"))
}
