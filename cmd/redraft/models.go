package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hupe1980/redraft/credits"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models and their credit multipliers",
	Long: `List the models with a known credit multiplier.

One credit buys ten thousand tokens at multiplier 1.0. Models priced
above the baseline meter faster, cheap models slower. Models not in the
table can still be used in session files; they meter at 1.0.`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	table := credits.MultiplierTable()

	models := make([]string, 0, len(table))
	for model := range table {
		models = append(models, model)
	}
	sort.Strings(models)

	fmt.Printf("%-36s %s\n", "MODEL", "MULTIPLIER")
	for _, model := range models {
		fmt.Printf("%-36s %10.2f\n", model, table[model])
	}
	fmt.Printf("\nUnlisted models meter at 1.00. One credit = %d tokens at 1.00.\n", credits.BaseTokensPerCredit)

	return nil
}
