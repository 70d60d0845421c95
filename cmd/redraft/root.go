package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "redraft",
	Short: "Multi-agent document refinement",
	Long: `Redraft runs a document through rounds of multi-agent refinement:
a writer drafts, editors critique in parallel, and a synthesizer weighs
the feedback and scores the result. Rounds repeat until the quality
target or the round limit is reached, then the writer applies a final
polish pass.

Sessions are defined in YAML files naming the agent roster, the models
behind each agent and the termination rules. Provider API keys are read
from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY,
PERPLEXITY_API_KEY) or from ~/.redraft.yaml.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(healthCmd)
}
