// Package health tracks provider availability from recent call outcomes.
//
// A Tracker keeps a sliding window of per-provider call records and derives a
// coarse status (healthy, degraded, unhealthy, unknown) from the success rate
// inside that window. The tracker is constructor-injected and shared by
// reference; it is read-only telemetry and never gates scheduling decisions.
//
// A Pinger can supplement organic traffic with periodic probes against each
// configured provider's cheapest model, so status stays fresh while no
// session is running.
package health
