package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/redraft/config"
	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/credits"
	"github.com/hupe1980/redraft/runner"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <session.yaml>",
	Short: "Estimate a session's credit cost without running it",
	Long: `Estimate what a session will cost in credits.

The projection uses the same math the runner applies before a session
starts: per-turn input sized by role, roughly a thousand output tokens
per turn, the writer running one extra pass for the final polish, and
each agent's model multiplier. Actual usage is metered from real token
counts and will differ.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadSession(args[0])
	if err != nil {
		return err
	}
	for _, w := range config.Warnings(*cfg) {
		fmt.Printf("%s %s\n", color.YellowString("warning:"), w)
	}

	var active []core.AgentConfig
	for phase := core.PhaseWriter; phase <= core.PhaseSynthesizer; phase++ {
		active = append(active, cfg.ActiveAgents(phase)...)
	}
	editorCount := len(cfg.Editors())
	words := len(strings.Fields(cfg.WorkingDocument))

	fmt.Printf("%-16s %-34s %6s %6s %9s\n", "AGENT", "MODEL", "MULT", "TURNS", "CREDITS")
	for _, a := range active {
		plan := credits.PlanAgentTurns(a, editorCount, cfg.Termination.MaxRounds, words)
		fmt.Printf("%-16s %-34s %6.2f %6d %9.2f\n",
			a.ID, a.Model, credits.ModelMultiplier(a.Model), plan.Runs, plan.Credits(a.Model))
	}

	fmt.Printf("\nEstimated total: %s credits (%d rounds", color.New(color.Bold).Sprintf("%d", runner.Estimate(*cfg)), cfg.Termination.MaxRounds)
	if cfg.Termination.ScoreThreshold > 0 {
		fmt.Printf(", stops early at score %.1f", cfg.Termination.ScoreThreshold)
	}
	fmt.Println(")")

	return nil
}
