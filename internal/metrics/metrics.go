// Package metrics holds the engine's in-process counters. Counters are plain
// atomics: incrementing on the hot path costs one atomic add, and exporters
// read a consistent snapshot instead of instrumenting call sites.
package metrics

import "sync/atomic"

// MetricID indexes one counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginLocked
	MetricChallengeIssued
	MetricChallengeSuccess
	MetricChallengeFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricLogout
	MetricLogoutAll
	MetricTwoFactorEnabled
	MetricTwoFactorDisabled
	MetricTokensPurged

	MetricIDCount
)

// Names maps IDs to exporter-facing metric names.
var Names = [MetricIDCount]string{
	MetricLoginSuccess:         "authcore_login_success_total",
	MetricLoginFailure:         "authcore_login_failure_total",
	MetricLoginRateLimited:     "authcore_login_rate_limited_total",
	MetricLoginLocked:          "authcore_login_locked_total",
	MetricChallengeIssued:      "authcore_challenge_issued_total",
	MetricChallengeSuccess:     "authcore_challenge_success_total",
	MetricChallengeFailure:     "authcore_challenge_failure_total",
	MetricRefreshSuccess:       "authcore_refresh_success_total",
	MetricRefreshFailure:       "authcore_refresh_failure_total",
	MetricRefreshReuseDetected: "authcore_refresh_reuse_detected_total",
	MetricLogout:               "authcore_logout_total",
	MetricLogoutAll:            "authcore_logout_all_total",
	MetricTwoFactorEnabled:     "authcore_twofactor_enabled_total",
	MetricTwoFactorDisabled:    "authcore_twofactor_disabled_total",
	MetricTokensPurged:         "authcore_tokens_purged_total",
}

// Config controls whether counting is active.
type Config struct {
	Enabled bool
}

// Metrics is the counter set. A nil *Metrics is a valid no-op receiver.
type Metrics struct {
	counters [MetricIDCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// New returns a Metrics instance, or nil when disabled.
func New(cfg Config) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Add increments one counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(n)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
