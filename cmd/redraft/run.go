package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/redraft"
	"github.com/hupe1980/redraft/config"
	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/ledger"
	ledgersqlite "github.com/hupe1980/redraft/ledger/sqlite"
	"github.com/hupe1980/redraft/logging"
	"github.com/hupe1980/redraft/runner"
	"github.com/hupe1980/redraft/session"
	sessionsqlite "github.com/hupe1980/redraft/session/sqlite"
)

var (
	runJSON       bool
	runDataDir    string
	runUser       string
	runBedrock    bool
	runAWSRegion  string
	runAWSProfile string
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run <session.yaml>",
	Short: "Run a refinement session",
	Long: `Run a refinement session defined in a YAML file.

Events stream to stdout as they happen: round banners, per-agent token
streams, evaluation scores and credit usage. Pass --json for raw
newline-delimited JSON events instead.

With --data-dir the transcript is persisted to a sqlite store and usage
is billed against a sqlite credit ledger in that directory; without it
the session runs in memory and nothing is billed.

Press Ctrl-C once to stop cooperatively: the agent currently speaking
finishes its turn, the session records "Stopped by user" and completed
turns are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit newline-delimited JSON events")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Directory for the sqlite session store and credit ledger")
	runCmd.Flags().StringVar(&runUser, "user", "", "User the session runs and bills as (default \"local\")")
	runCmd.Flags().BoolVar(&runBedrock, "bedrock", false, "Route Anthropic models through AWS Bedrock")
	runCmd.Flags().StringVar(&runAWSRegion, "aws-region", "", "AWS region for Bedrock")
	runCmd.Flags().StringVar(&runAWSProfile, "aws-profile", "", "AWS profile for Bedrock")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Log engine internals to stderr")
}

func runSession(cmd *cobra.Command, args []string) error {
	sessionCfg, err := config.LoadSession(args[0])
	if err != nil {
		return err
	}
	for _, w := range config.Warnings(*sessionCfg) {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("warning:"), w)
	}

	cliCfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	if runBedrock {
		cliCfg.Anthropic.UseBedrock = true
	}
	if runAWSRegion != "" {
		cliCfg.Anthropic.AWSRegion = runAWSRegion
	}
	if runAWSProfile != "" {
		cliCfg.Anthropic.AWSProfile = runAWSProfile
	}
	if runUser != "" {
		cliCfg.User = runUser
	}
	if runDataDir == "" {
		runDataDir = cliCfg.DataDir
	}

	providers, err := buildProviders(cliCfg, sessionProviderKinds(*sessionCfg))
	if err != nil {
		return err
	}

	var store session.Store = session.NewInMemoryStore()
	var led ledger.Ledger
	if runDataDir != "" {
		if err := os.MkdirAll(runDataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		sqlStore, err := sessionsqlite.Open(filepath.Join(runDataDir, "sessions.db"))
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore

		sqlLedger, err := ledgersqlite.Open(filepath.Join(runDataDir, "credits.db"))
		if err != nil {
			return fmt.Errorf("open credit ledger: %w", err)
		}
		defer sqlLedger.Close()
		led = sqlLedger
	}

	var logger logging.Logger = logging.NoOpLogger{}
	if runVerbose {
		logger = logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.LogLevelDebug,
			Format: "text",
			Output: os.Stderr,
		})
	}

	rd := redraft.New(func(o *redraft.Options) {
		o.Providers = providers
		o.Store = store
		o.Ledger = led
		o.Logger = logger
	})

	run, err := rd.Run(context.Background(), *sessionCfg, cliCfg.User)
	if err != nil {
		return err
	}

	// First Ctrl-C stops cooperatively, a second one kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		signal.Stop(sigCh)
		fmt.Fprintln(os.Stderr, "\nStopping after the current turn...")
		run.Cancel()
	}()

	if runJSON {
		err = streamJSON(run)
	} else {
		streamPretty(run, *sessionCfg)
	}
	if err != nil {
		return err
	}

	if runErr := <-run.Err(); runErr != nil {
		return runErr
	}

	snap := run.Wait()
	if !runJSON {
		printSummary(snap, runDataDir)
	}

	return nil
}

func streamJSON(run *runner.Run) error {
	enc := json.NewEncoder(os.Stdout)
	for ev := range run.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func streamPretty(run *runner.Run, cfg core.SessionConfig) {
	var (
		bold   = color.New(color.Bold)
		cyan   = color.New(color.FgCyan)
		dim    = color.New(color.Faint)
		green  = color.New(color.FgGreen)
		yellow = color.New(color.FgYellow)
		red    = color.New(color.FgRed)
	)

	title := cfg.Title
	if title == "" {
		title = cfg.SessionID
	}
	bold.Printf("%s\n", title)

	// Token streams print raw; structural lines need a newline after them.
	midStream := false
	breakStream := func() {
		if midStream {
			fmt.Println()
			midStream = false
		}
	}

	for ev := range run.Events() {
		switch ev.Type {
		case core.EventSessionStart:
			dim.Printf("  %d agents, up to %d rounds\n", intField(ev.Data, "agent_count"), intField(ev.Data, "max_rounds"))

		case core.EventRoundStart:
			breakStream()
			if boolField(ev.Data, "is_final_pass") {
				cyan.Printf("\n── Final polish ──\n")
			} else {
				cyan.Printf("\n── Round %d of %d ──\n", intField(ev.Data, "round"), intField(ev.Data, "max_rounds"))
			}

		case core.EventAgentStart:
			breakStream()
			fmt.Println()
			bold.Printf("%s", stringField(ev.Data, "agent_name"))
			dim.Printf(" · turn %d\n", intField(ev.Data, "turn_number"))

		case core.EventAgentToken:
			fmt.Print(stringField(ev.Data, "token"))
			midStream = true

		case core.EventAgentComplete:
			breakStream()
			usage, _ := ev.Data["usage"].(map[string]any)
			if score, ok := evaluationScore(ev.Data); ok {
				dim.Printf("  scored %.1f/10 · ", score)
			} else {
				dim.Printf("  ")
			}
			dim.Printf("%d credits (%d in / %d out)\n",
				intField(usage, "credits_used"), intField(usage, "input_tokens"), intField(usage, "output_tokens"))

		case core.EventRoundComplete:
			breakStream()
			dim.Printf("round %d done, %d turns\n", intField(ev.Data, "round"), intField(ev.Data, "turns_in_round"))

		case core.EventCreditWarning:
			breakStream()
			yellow.Printf("%s (%d remaining)\n", stringField(ev.Data, "message"), intField(ev.Data, "remaining_credits"))

		case core.EventSessionPaused:
			breakStream()
			yellow.Printf("paused after %s\n", stringField(ev.Data, "after_agent"))

		case core.EventSessionResumed:
			breakStream()
			yellow.Printf("resumed\n")

		case core.EventError:
			breakStream()
			if agentID := stringField(ev.Data, "agent_id"); agentID != "" {
				red.Fprintf(os.Stderr, "error [%s]: %s\n", agentID, stringField(ev.Data, "message"))
			} else {
				red.Fprintf(os.Stderr, "error: %s\n", stringField(ev.Data, "message"))
			}

		case core.EventSessionComplete:
			breakStream()
			fmt.Println()
			green.Printf("Session complete: %s\n", stringField(ev.Data, "reason"))
		}
	}
}

func printSummary(snap core.Snapshot, dataDir string) {
	dim := color.New(color.Faint)

	credits := 0
	for _, t := range snap.Turns {
		credits += t.CreditsUsed
	}
	dim.Printf("%d turns · %d credits", len(snap.Turns), credits)
	if dataDir != "" {
		dim.Printf(" · transcript in %s", filepath.Join(dataDir, "sessions.db"))
	}
	fmt.Println()

	if snap.WorkingDocument != "" {
		fmt.Printf("\n─── Document ───\n%s\n", snap.WorkingDocument)
	}
}

// evaluationScore digs the overall score out of an agent_complete payload.
func evaluationScore(data map[string]any) (float64, bool) {
	eval, ok := data["evaluation"].(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := eval["overall_score"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Event payloads hold ints in process and float64 after a JSON round-trip;
// the renderer accepts both.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func boolField(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}
