package health

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/redraft/core"
	"github.com/hupe1980/redraft/logging"
	"github.com/hupe1980/redraft/provider"
)

// DefaultPingInterval is how often the background pinger probes each provider.
const DefaultPingInterval = 60 * time.Second

const (
	pingSystemPrompt = "You are a health check responder."
	pingPrompt       = "Respond with only the word OK"
	pingMaxTokens    = 10
)

// healthCheckModels selects a cheap model per provider for probe requests.
var healthCheckModels = map[core.ProviderKind]string{
	core.ProviderAnthropic:  "claude-3-5-haiku-20241022",
	core.ProviderOpenAI:     "gpt-4o-mini",
	core.ProviderPerplexity: "sonar",
}

// PingerOptions configures a Pinger.
type PingerOptions struct {
	// Interval between probe sweeps. Defaults to DefaultPingInterval.
	Interval time.Duration

	// Logger receives probe outcomes. Defaults to a no-op logger.
	Logger logging.Logger
}

// Pinger periodically probes each registered provider with a minimal request
// and records the outcome on a Tracker. Probes run alongside, and count the
// same as, real traffic; a provider that serves sessions successfully stays
// healthy even if probes are disabled.
type Pinger struct {
	providers map[core.ProviderKind]provider.Provider
	tracker   *Tracker
	interval  time.Duration
	logger    logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPinger creates a Pinger over the given providers, recording onto tracker.
func NewPinger(providers map[core.ProviderKind]provider.Provider, tracker *Tracker, optFns ...func(o *PingerOptions)) *Pinger {
	opts := PingerOptions{
		Interval: DefaultPingInterval,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultPingInterval
	}

	return &Pinger{
		providers: providers,
		tracker:   tracker,
		interval:  opts.Interval,
		logger:    opts.Logger,
	}
}

// Start launches the background probe loop. The first sweep runs immediately,
// then every interval until Stop is called or ctx is cancelled. Calling Start
// on a running Pinger is a no-op.
func (p *Pinger) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
}

// Stop halts the probe loop and waits for the in-flight sweep to finish.
func (p *Pinger) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (p *Pinger) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.PingAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PingAll(ctx)
		}
	}
}

// PingAll probes every registered provider concurrently and blocks until all
// probes return.
func (p *Pinger) PingAll(ctx context.Context) {
	var wg sync.WaitGroup

	for kind, prov := range p.providers {
		model, ok := healthCheckModels[kind]
		if !ok {
			continue
		}

		wg.Add(1)

		go func(kind core.ProviderKind, prov provider.Provider, model string) {
			defer wg.Done()
			p.ping(ctx, kind, prov, model)
		}(kind, prov, model)
	}

	wg.Wait()
}

func (p *Pinger) ping(ctx context.Context, kind core.ProviderKind, prov provider.Provider, model string) {
	_, err := prov.Generate(ctx, provider.GenerateRequest{
		SystemPrompt: pingSystemPrompt,
		UserPrompt:   pingPrompt,
		Model:        model,
		Temperature:  0,
		MaxTokens:    pingMaxTokens,
	})
	if err != nil {
		fault := core.FaultOf(err)
		overloaded := fault == core.FaultRateLimited || fault == core.FaultOverloaded
		p.tracker.RecordFailure(kind, err.Error(), overloaded)
		p.logger.Warn("Health probe failed", "provider", string(kind), "model", model, "error", err.Error())

		return
	}

	p.tracker.RecordSuccess(kind)
	p.logger.Debug("Health probe succeeded", "provider", string(kind), "model", model)
}
