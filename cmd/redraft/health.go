package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/redraft/health"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every configured provider",
	Long: `Probe every provider the CLI has a credential for with a minimal
request against its cheapest model, then report the outcome.

A provider is configured when its API key is present in the environment
or in ~/.redraft.yaml (or, for Anthropic, when Bedrock routing is on).`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 30*time.Second, "Overall probe deadline")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cliCfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	kinds := configuredProviderKinds(cliCfg)
	if len(kinds) == 0 {
		return fmt.Errorf("no providers configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY or PERPLEXITY_API_KEY")
	}

	providers, err := buildProviders(cliCfg, kinds)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	tracker := health.NewTracker()
	pinger := health.NewPinger(providers, tracker)

	fmt.Printf("Probing %d providers...\n\n", len(providers))
	pinger.PingAll(ctx)

	fmt.Printf("%-12s %-10s %s\n", "PROVIDER", "STATUS", "DETAIL")
	for _, kind := range kinds {
		h := tracker.Health(kind)

		detail := fmt.Sprintf("%.0f%% success over %d calls", h.SuccessRate*100, h.RecentCalls)
		if h.LastError != "" {
			detail = h.LastError
		}

		// Pad before coloring so ANSI escapes do not skew the column.
		status := fmt.Sprintf("%-10s", string(h.Status))
		fmt.Printf("%-12s %s %s\n", string(kind), statusColor(h.Status)(status), detail)
	}

	return nil
}

func statusColor(status health.Status) func(...interface{}) string {
	switch status {
	case health.StatusHealthy:
		return color.New(color.FgGreen).SprintFunc()
	case health.StatusDegraded:
		return color.New(color.FgYellow).SprintFunc()
	case health.StatusUnhealthy:
		return color.New(color.FgRed).SprintFunc()
	default:
		return color.New(color.Faint).SprintFunc()
	}
}
