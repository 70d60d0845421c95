package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/credits"
	"github.com/hupe1980/redraft/engine"
	"github.com/hupe1980/redraft/ledger"
	"github.com/hupe1980/redraft/logging"
)

// Options holds dependency overrides passed to New.
type Options struct {
	// Ledger gates sessions on the pre-run estimate and is settled with the
	// actual usage afterwards. Nil disables billing entirely.
	Ledger ledger.Ledger
	// Logger receives settlement outcomes. Defaults to the no-op logger.
	Logger logging.Logger
}

// Runner drives sessions end to end on behalf of a user: estimate, gate,
// run, settle. Public methods are safe for concurrent use.
type Runner struct {
	engine *engine.Engine
	ledger ledger.Ledger
	logger logging.Logger
}

// New constructs a Runner around an engine.
func New(e *engine.Engine, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		engine: e,
		ledger: opts.Ledger,
		logger: opts.Logger,
	}
}

// Estimate predicts the credit cost of running cfg to its full round
// allotment, using the same defaulting the engine applies.
func Estimate(cfg core.SessionConfig) int {
	rounds := cfg.Termination.MaxRounds
	if rounds <= 0 {
		rounds = core.DefaultMaxRounds
	}

	var active []core.AgentConfig
	for _, phase := range []core.Phase{core.PhaseWriter, core.PhaseEditor, core.PhaseSynthesizer} {
		active = append(active, cfg.ActiveAgents(phase)...)
	}

	return credits.EstimateSessionCredits(active, rounds, len(strings.Fields(cfg.WorkingDocument)))
}

// Run gates the session on the estimated cost, starts it, and returns a Run
// streaming its events. When the estimate exceeds the user's balance the
// session is refused with an *ledger.InsufficientCreditsError before any
// provider is called.
func (r *Runner) Run(ctx context.Context, cfg core.SessionConfig, userID string) (*Run, error) {
	if r.ledger != nil {
		estimate := Estimate(cfg)

		balance, err := r.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read credit balance: %w", err)
		}
		if estimate > balance {
			return nil, &ledger.InsufficientCreditsError{
				UserID:    userID,
				Requested: estimate,
				Available: balance,
			}
		}
	}

	h, err := r.engine.Start(ctx, cfg, userID)
	if err != nil {
		return nil, err
	}

	run := &Run{
		title:  cfg.Title,
		handle: h,
		events: make(chan core.Event, engine.DefaultEventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	go r.pump(ctx, run, userID)

	return run, nil
}

// Result is the collected outcome of a synchronous run.
type Result struct {
	Snapshot    core.Snapshot
	Events      []core.Event
	CreditsUsed int
}

// RunSync runs a session to completion, collecting every event. It blocks
// until the session has ended and the ledger is settled.
func (r *Runner) RunSync(ctx context.Context, cfg core.SessionConfig, userID string) (*Result, error) {
	run, err := r.Run(ctx, cfg, userID)
	if err != nil {
		return nil, err
	}

	var events []core.Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	if err := <-run.Err(); err != nil {
		return nil, err
	}

	snap := run.Wait()

	return &Result{
		Snapshot:    snap,
		Events:      events,
		CreditsUsed: totalCredits(snap.Turns),
	}, nil
}

// pump forwards the engine's stream to the run's channel and settles the
// ledger when the session ends. Closing the run's channels is deferred past
// settlement so a fully drained stream implies a billed session.
func (r *Runner) pump(ctx context.Context, run *Run, userID string) {
	defer func() {
		close(run.events)
		close(run.errs)
		close(run.done)
	}()

	for ev := range run.handle.Events() {
		select {
		case run.events <- ev:
		case <-ctx.Done():
			// Keep draining so the engine can unwind; the caller is gone.
		}
	}

	if err := <-run.handle.Err(); err != nil {
		select {
		case run.errs <- err:
		default:
		}
	}

	snap := run.handle.Wait()
	r.settle(context.WithoutCancel(ctx), run, userID, snap)
}

// settle deducts the session's recorded usage. A failed deduction is logged
// and swallowed: the work is done and the turns are kept either way.
func (r *Runner) settle(ctx context.Context, run *Run, userID string, snap core.Snapshot) {
	total := totalCredits(snap.Turns)
	if r.ledger == nil || total == 0 {
		return
	}

	label := run.title
	if label == "" {
		label = snap.SessionID
	}

	balance, err := r.ledger.Deduct(ctx, userID, total, snap.SessionID, "Session: "+label)
	if err != nil {
		r.logger.Warn("credit settlement failed",
			"session", snap.SessionID, "user", userID, "credits", total, "error", err)
		return
	}

	r.logger.Info("credits settled",
		"session", snap.SessionID, "user", userID, "credits", total, "balance", balance)
}

func totalCredits(turns []core.ExchangeTurn) int {
	total := 0
	for _, t := range turns {
		total += t.CreditsUsed
	}
	return total
}

// Run is one live session started through the runner. It mirrors the engine
// handle's surface; the event stream additionally guarantees settlement has
// happened by the time it closes.
type Run struct {
	title  string
	handle *engine.Handle
	events chan core.Event
	errs   chan error
	done   chan struct{}
}

// SessionID returns the session identifier, defaulted at start if the config
// omitted one.
func (r *Run) SessionID() string { return r.handle.SessionID() }

// Events returns the event stream. It is closed after the session ends and
// the ledger is settled; consumers must drain it.
func (r *Run) Events() <-chan core.Event { return r.events }

// Err reports the terminal error of a run torn down by its context. It is
// closed without a value on normal completion.
func (r *Run) Err() <-chan error { return r.errs }

// Pause requests a pause at the next sequential turn boundary.
func (r *Run) Pause() { r.handle.Pause() }

// Resume lifts a pause.
func (r *Run) Resume() { r.handle.Resume() }

// Cancel requests cooperative cancellation; the session unwinds at the next
// turn boundary with reason "Stopped by user".
func (r *Run) Cancel() { r.handle.Cancel() }

// State returns a point-in-time snapshot of the session.
func (r *Run) State() core.Snapshot { return r.handle.State() }

// Wait blocks until the session has ended and settlement has run, then
// returns the final snapshot.
func (r *Run) Wait() core.Snapshot {
	<-r.done
	return r.handle.Wait()
}
