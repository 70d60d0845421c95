package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/redraft/core"
)

func TestHealthUnknownWithoutCalls(t *testing.T) {
	tracker := NewTracker()

	h := tracker.Health(core.ProviderAnthropic)

	assert.Equal(t, StatusUnknown, h.Status)
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.Equal(t, 0, h.RecentCalls)
}

func TestHealthyAtSeventyPercent(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 7; i++ {
		tracker.RecordSuccess(core.ProviderAnthropic)
	}
	for i := 0; i < 3; i++ {
		tracker.RecordFailure(core.ProviderAnthropic, "overloaded_error", true)
	}

	h := tracker.Health(core.ProviderAnthropic)

	assert.Equal(t, StatusHealthy, h.Status)
	assert.InDelta(t, 0.7, h.SuccessRate, 1e-9)
	assert.Equal(t, 10, h.RecentCalls)
	assert.Equal(t, "overloaded_error", h.LastError)
	assert.False(t, h.LastErrorTime.IsZero())
}

func TestDegradedBand(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 6; i++ {
		tracker.RecordSuccess(core.ProviderOpenAI)
	}
	for i := 0; i < 4; i++ {
		tracker.RecordFailure(core.ProviderOpenAI, "timeout", false)
	}

	h := tracker.Health(core.ProviderOpenAI)

	assert.Equal(t, StatusDegraded, h.Status)
	assert.InDelta(t, 0.6, h.SuccessRate, 1e-9)
}

func TestDegradedAtThirtyPercent(t *testing.T) {
	tracker := NewTracker()
	for i := 0; i < 3; i++ {
		tracker.RecordSuccess(core.ProviderOpenAI)
	}
	for i := 0; i < 7; i++ {
		tracker.RecordFailure(core.ProviderOpenAI, "timeout", false)
	}

	h := tracker.Health(core.ProviderOpenAI)

	assert.Equal(t, StatusDegraded, h.Status)
	assert.InDelta(t, 0.3, h.SuccessRate, 1e-9)
}

func TestUnhealthyBelowThirtyPercent(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordSuccess(core.ProviderPerplexity)
	for i := 0; i < 4; i++ {
		tracker.RecordFailure(core.ProviderPerplexity, "connection refused", false)
	}

	h := tracker.Health(core.ProviderPerplexity)

	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.InDelta(t, 0.2, h.SuccessRate, 1e-9)
	assert.Equal(t, "connection refused", h.LastError)
}

func TestWindowExpiresOldCalls(t *testing.T) {
	tracker := NewTracker()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tracker.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(core.ProviderAnthropic, "overloaded", true)
	}

	h := tracker.Health(core.ProviderAnthropic)
	assert.Equal(t, StatusUnhealthy, h.Status)

	clock = base.Add(6 * time.Minute)
	tracker.RecordSuccess(core.ProviderAnthropic)

	h = tracker.Health(core.ProviderAnthropic)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.Equal(t, 1, h.RecentCalls)
}

func TestHistoryCapKeepsNewestCalls(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 60; i++ {
		tracker.RecordFailure(core.ProviderAnthropic, "boom", false)
	}
	for i := 0; i < maxRecords; i++ {
		tracker.RecordSuccess(core.ProviderAnthropic)
	}

	h := tracker.Health(core.ProviderAnthropic)

	assert.Equal(t, maxRecords, h.RecentCalls)
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestSnapshotCoversOnlySeenProviders(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordSuccess(core.ProviderAnthropic)

	snapshot := tracker.Snapshot()

	assert.Len(t, snapshot, 1)
	assert.Equal(t, StatusHealthy, snapshot[core.ProviderAnthropic].Status)

	_, seen := snapshot[core.ProviderOpenAI]
	assert.False(t, seen)
}
