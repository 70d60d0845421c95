package health

import (
	"sync"
	"time"

	"github.com/hupe1980/redraft/core"
)

// Status is a coarse provider availability level.
type Status string

const (
	// StatusHealthy means the provider is working normally.
	StatusHealthy Status = "healthy"
	// StatusDegraded means the provider is experiencing issues.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means the provider is down or overloaded.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown means there is no recent data to judge from.
	StatusUnknown Status = "unknown"
)

const (
	// window is how far back calls count toward the success rate.
	window = 5 * time.Minute
	// maxRecords caps the per-provider call history.
	maxRecords = 100
	// minCallsForStatus is the minimum sample size for a non-unknown status.
	minCallsForStatus = 1
	// degradedThreshold and unhealthyThreshold split the success rate into
	// the three judged statuses.
	degradedThreshold  = 0.7
	unhealthyThreshold = 0.3
)

// ProviderHealth is the derived health view for a single provider.
type ProviderHealth struct {
	Status        Status    `json:"status"`
	SuccessRate   float64   `json:"success_rate"`
	RecentCalls   int       `json:"recent_calls"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
}

type callRecord struct {
	timestamp time.Time
	success   bool
	errorMsg  string
	overload  bool
}

type lastError struct {
	message string
	at      time.Time
}

// Tracker collects per-provider call outcomes and derives health statuses
// from a sliding window over them. Safe for concurrent use; recording is an
// independent append and never blocks on readers for long.
type Tracker struct {
	mu         sync.Mutex
	calls      map[core.ProviderKind][]callRecord
	lastErrors map[core.ProviderKind]lastError

	now func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		calls:      make(map[core.ProviderKind][]callRecord),
		lastErrors: make(map[core.ProviderKind]lastError),
		now:        time.Now,
	}
}

// RecordSuccess records a successful call against the provider.
func (t *Tracker) RecordSuccess(kind core.ProviderKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.append(kind, callRecord{timestamp: t.now(), success: true})
}

// RecordFailure records a failed call. overloaded marks rate-limit and
// capacity failures so dashboards can tell them apart from hard errors.
func (t *Tracker) RecordFailure(kind core.ProviderKind, errMsg string, overloaded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.append(kind, callRecord{
		timestamp: now,
		errorMsg:  errMsg,
		overload:  overloaded,
	})
	t.lastErrors[kind] = lastError{message: errMsg, at: now}
}

// append caps the history at maxRecords, dropping the oldest entry.
func (t *Tracker) append(kind core.ProviderKind, rec callRecord) {
	records := append(t.calls[kind], rec)
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}
	t.calls[kind] = records
}

// Health derives the provider's current status from calls inside the window.
// With no recent calls the status is unknown and the success rate reads 1.0.
func (t *Tracker) Health(kind core.ProviderKind) ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthLocked(kind)
}

func (t *Tracker) healthLocked(kind core.ProviderKind) ProviderHealth {
	cutoff := t.now().Add(-window)

	recent := 0
	successes := 0
	for _, rec := range t.calls[kind] {
		if !rec.timestamp.After(cutoff) {
			continue
		}
		recent++
		if rec.success {
			successes++
		}
	}

	if recent < minCallsForStatus {
		return ProviderHealth{
			Status:      StatusUnknown,
			SuccessRate: 1.0,
			RecentCalls: recent,
		}
	}

	rate := float64(successes) / float64(recent)
	status := StatusUnhealthy
	switch {
	case rate >= degradedThreshold:
		status = StatusHealthy
	case rate >= unhealthyThreshold:
		status = StatusDegraded
	}

	health := ProviderHealth{
		Status:      status,
		SuccessRate: rate,
		RecentCalls: recent,
	}
	if last, ok := t.lastErrors[kind]; ok {
		health.LastError = last.message
		health.LastErrorTime = last.at
	}
	return health
}

// Snapshot returns the health of every provider the tracker has seen calls
// for. Providers with no history are absent; query Health directly for those.
func (t *Tracker) Snapshot() map[core.ProviderKind]ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[core.ProviderKind]ProviderHealth, len(t.calls))
	for kind := range t.calls {
		snapshot[kind] = t.healthLocked(kind)
	}
	return snapshot
}
