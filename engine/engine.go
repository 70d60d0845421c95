package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/health"
	"github.com/hupe1980/redraft/ledger"
	"github.com/hupe1980/redraft/logging"
	"github.com/hupe1980/redraft/prompt"
	"github.com/hupe1980/redraft/provider"
	"github.com/hupe1980/redraft/session"
)

// Scheduler defaults, overridable through Options.
const (
	// DefaultEventBufferSize is the capacity of a handle's event channel.
	// Once it fills, the scheduler blocks until the client drains it.
	DefaultEventBufferSize = 64

	// DefaultPausePollInterval is how often a paused scheduler re-checks the
	// pause flag. Pause latency is bounded by one interval.
	DefaultPausePollInterval = 500 * time.Millisecond

	// DefaultTemperature is the sampling temperature for every agent turn.
	DefaultTemperature = 0.7
)

// Options configures an Engine via the functional options pattern.
//
// Providers is the only option without a useful default: a session can only
// run if every active agent's provider kind is registered here. Store and
// Ledger are optional collaborators; leaving them nil disables persistence
// and credit enforcement respectively.
type Options struct {
	// Providers maps provider kinds to their implementations. Checked at
	// Start against the session's active agents.
	Providers map[core.ProviderKind]provider.Provider

	// Store persists sessions and turns. Persistence failures are logged and
	// never interrupt a running session. Nil disables persistence.
	Store session.Store

	// Ledger supplies the credit balance read at session start. The engine
	// only reads; deduction is the caller's concern. Nil disables all credit
	// checks.
	Ledger ledger.Ledger

	// Health receives the outcome of every provider call when set.
	Health *health.Tracker

	// Composer builds system and user prompts. Defaults to prompt.NewComposer.
	Composer *prompt.Composer

	// Logger receives structured scheduler logs. Defaults to a no-op logger.
	Logger logging.Logger

	// EventBufferSize overrides DefaultEventBufferSize.
	EventBufferSize int

	// PausePollInterval overrides DefaultPausePollInterval.
	PausePollInterval time.Duration

	// Temperature overrides DefaultTemperature.
	Temperature float64
}

// Engine schedules refinement sessions. It is immutable after construction
// and safe for concurrent use; each Start call runs an independent session
// on its own goroutine.
type Engine struct {
	providers map[core.ProviderKind]provider.Provider
	store     session.Store
	ledger    ledger.Ledger
	health    *health.Tracker
	composer  *prompt.Composer
	logger    logging.Logger

	eventBufferSize   int
	pausePollInterval time.Duration
	temperature       float64

	// Active run tracking - protected by its own mutex
	activeRuns map[string]*Handle
	runsMu     sync.RWMutex
}

// New creates an Engine. Without options it can be constructed but not run
// sessions, since no providers are registered.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Providers:         map[core.ProviderKind]provider.Provider{},
		Composer:          prompt.NewComposer(),
		Logger:            logging.NoOpLogger{},
		EventBufferSize:   DefaultEventBufferSize,
		PausePollInterval: DefaultPausePollInterval,
		Temperature:       DefaultTemperature,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = DefaultEventBufferSize
	}
	if opts.PausePollInterval <= 0 {
		opts.PausePollInterval = DefaultPausePollInterval
	}
	if opts.Composer == nil {
		opts.Composer = prompt.NewComposer()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Engine{
		providers:         opts.Providers,
		store:             opts.Store,
		ledger:            opts.Ledger,
		health:            opts.Health,
		composer:          opts.Composer,
		logger:            opts.Logger,
		eventBufferSize:   opts.EventBufferSize,
		pausePollInterval: opts.PausePollInterval,
		temperature:       opts.Temperature,
		activeRuns:        make(map[string]*Handle),
	}
}

// Handle is the caller's view of one running session: the event stream, the
// control surface and state snapshots. All methods are safe for concurrent
// use.
type Handle struct {
	id    string
	state *core.SessionState

	events chan core.Event
	errs   chan error
	done   chan struct{}
}

// ID returns the run's unique identifier, distinct from the session ID.
func (h *Handle) ID() string { return h.id }

// SessionID returns the session this run executes.
func (h *Handle) SessionID() string { return h.state.Config.SessionID }

// Events returns the run's event stream. It is closed when the run ends;
// clients must drain it, as an undrained stream eventually blocks the
// scheduler.
func (h *Handle) Events() <-chan core.Event { return h.events }

// Err returns a channel that yields the terminal error of a run torn down by
// its context before normal completion. It is closed, usually empty, when
// the run ends.
func (h *Handle) Err() <-chan error { return h.errs }

// Pause requests a cooperative pause at the next sequential turn boundary.
func (h *Handle) Pause() { h.state.Pause() }

// Resume clears a pending or active pause.
func (h *Handle) Resume() { h.state.Resume() }

// Cancel requests a cooperative stop. The session unwinds at the next turn
// boundary with the reason "Stopped by user"; an in-flight provider call is
// allowed to finish first.
func (h *Handle) Cancel() { h.state.Cancel() }

// State returns a point-in-time snapshot of the run's session state.
func (h *Handle) State() core.Snapshot { return h.state.Snapshot() }

// Wait blocks until the run ends and returns the final state snapshot.
func (h *Handle) Wait() core.Snapshot {
	<-h.done
	return h.state.Snapshot()
}

// Start launches a session and returns its Handle. The config is validated
// and defaulted (session ID, max rounds) first, every active agent's
// provider kind must be registered, and when a ledger is configured the
// user's balance is read before any provider call. The session itself runs
// asynchronously; callers observe it through the handle.
func (e *Engine) Start(ctx context.Context, cfg core.SessionConfig, userID string) (*Handle, error) {
	cfg = cfg.Clone()
	if cfg.SessionID == "" {
		cfg.SessionID = core.NewID()
	}
	if cfg.Termination.MaxRounds == 0 {
		cfg.Termination.MaxRounds = core.DefaultMaxRounds
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	active := 0
	for _, a := range cfg.Agents {
		if !a.IsActive {
			continue
		}
		active++
		if _, ok := e.providers[a.Provider]; !ok {
			return nil, fmt.Errorf("%w %s: %s", core.ErrNoProvider, a.ID, a.Provider)
		}
	}
	if active == 0 {
		return nil, fmt.Errorf("session %s has no active agents", cfg.SessionID)
	}

	// The balance is read once. The scheduler tracks projected spend against
	// this figure; the caller settles the ledger after the run.
	balance := -1
	if e.ledger != nil {
		b, err := e.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read credit balance: %w", err)
		}
		balance = b
	}

	h := &Handle{
		id:     core.NewID(),
		state:  core.NewSessionState(cfg),
		events: make(chan core.Event, e.eventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	e.runsMu.Lock()
	e.activeRuns[h.id] = h
	e.runsMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer func() {
			cancel()
			close(h.events)
			close(h.errs)
			close(h.done)

			e.runsMu.Lock()
			delete(e.activeRuns, h.id)
			e.runsMu.Unlock()
		}()

		r := &run{
			engine:         e,
			handle:         h,
			state:          h.state,
			userID:         userID,
			log:            e.logger,
			initialBalance: balance,
		}
		r.execute(runCtx)
	}()

	return h, nil
}

// Stop requests cancellation of an active run by its handle ID. It returns
// an error when no run with that ID is active; a run that already ended is
// not an active run.
func (e *Engine) Stop(id string) error {
	e.runsMu.RLock()
	h, ok := e.activeRuns[id]
	e.runsMu.RUnlock()

	if !ok {
		return fmt.Errorf("run %s not found", id)
	}

	h.Cancel()

	return nil
}
