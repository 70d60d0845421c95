// Package redraft provides a high-level façade over the refinement engine and
// its collaborators (providers, session store, credit ledger, health
// tracking). Most applications interact with this package by:
//  1. Creating a Redraft via New() with the providers they hold keys for
//  2. Describing a session as a core.SessionConfig (agents, rounds, prompt)
//  3. Running it asynchronously (Run) or synchronously (RunSync)
//
// The façade delegates scheduling to engine.Engine and billing to
// runner.Runner while keeping setup concise. Defaults are safe for local
// development and testing: an in-memory session store, no ledger, no-op
// logging. Production deployments supply durable stores, a ledger and a
// structured logger.
package redraft

import (
	"context"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/engine"
	"github.com/hupe1980/redraft/health"
	"github.com/hupe1980/redraft/ledger"
	"github.com/hupe1980/redraft/logging"
	"github.com/hupe1980/redraft/provider"
	"github.com/hupe1980/redraft/runner"
	"github.com/hupe1980/redraft/session"
)

// Options configures the Redraft instance.
type Options struct {
	// Providers maps provider kinds to configured backends. Every provider an
	// active agent names must be present.
	Providers map[core.ProviderKind]provider.Provider

	// Store persists sessions and turns. Defaults to the in-memory store.
	Store session.Store

	// Ledger enables credit gating and settlement. Nil runs without billing.
	Ledger ledger.Ledger

	// Health receives per-call provider outcomes when set.
	Health *health.Tracker

	// Logger defaults to the no-op logger.
	Logger logging.Logger

	// EventBufferSize sets the event channel capacity per session.
	EventBufferSize int

	// Temperature overrides the sampling temperature for agent turns.
	Temperature float64
}

// Redraft is the high-level façade aggregating the engine and the runner.
type Redraft struct {
	engine *engine.Engine
	runner *runner.Runner
	health *health.Tracker
}

// New creates a Redraft instance with optional overrides. Any unset
// collaborator is initialized with a local default.
func New(optFns ...func(o *Options)) *Redraft {
	opts := Options{
		Providers: map[core.ProviderKind]provider.Provider{},
		Store:     session.NewInMemoryStore(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	e := engine.New(func(o *engine.Options) {
		o.Providers = opts.Providers
		o.Store = opts.Store
		o.Ledger = opts.Ledger
		o.Health = opts.Health
		o.Logger = opts.Logger
		o.EventBufferSize = opts.EventBufferSize
		o.Temperature = opts.Temperature
	})

	r := runner.New(e, func(o *runner.Options) {
		o.Ledger = opts.Ledger
		o.Logger = opts.Logger
	})

	return &Redraft{engine: e, runner: r, health: opts.Health}
}

// Run starts a session asynchronously, returning a handle streaming its
// events. See runner.Runner.Run for the gating semantics.
func (r *Redraft) Run(ctx context.Context, cfg core.SessionConfig, userID string) (*runner.Run, error) {
	return r.runner.Run(ctx, cfg, userID)
}

// RunSync runs a session to completion and returns the collected result.
func (r *Redraft) RunSync(ctx context.Context, cfg core.SessionConfig, userID string) (*runner.Result, error) {
	return r.runner.RunSync(ctx, cfg, userID)
}

// Estimate predicts the credit cost of running cfg to completion.
func (r *Redraft) Estimate(cfg core.SessionConfig) int {
	return runner.Estimate(cfg)
}

// Health returns the provider health tracker, nil when none was configured.
func (r *Redraft) Health() *health.Tracker {
	return r.health
}
