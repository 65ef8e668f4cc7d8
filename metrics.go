package identity

import "sync/atomic"

// MetricID identifies one core counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterRejected
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginSuspicious
	MetricMFAChallenged
	MetricMFABypassedTrustedDevice
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricReplayDetected
	MetricSessionCreated
	MetricSessionRevoked
	MetricBackupCodeUsed
	MetricOTPIssued
	MetricOTPRateLimited
	MetricRecoveryCodeRedeemed
	MetricAuditRecorded
	MetricAuditWriteFailed
	metricCount
)

var metricNames = map[MetricID]string{
	MetricRegisterSuccess:          "register_success",
	MetricRegisterRejected:         "register_rejected",
	MetricLoginSuccess:             "login_success",
	MetricLoginFailure:             "login_failure",
	MetricLoginLocked:              "login_locked",
	MetricLoginSuspicious:          "login_suspicious",
	MetricMFAChallenged:            "mfa_challenged",
	MetricMFABypassedTrustedDevice: "mfa_bypassed_trusted_device",
	MetricRefreshSuccess:           "refresh_success",
	MetricRefreshFailure:           "refresh_failure",
	MetricReplayDetected:           "replay_detected",
	MetricSessionCreated:           "session_created",
	MetricSessionRevoked:           "session_revoked",
	MetricBackupCodeUsed:           "backup_code_used",
	MetricOTPIssued:                "otp_issued",
	MetricOTPRateLimited:           "otp_rate_limited",
	MetricRecoveryCodeRedeemed:     "recovery_code_redeemed",
	MetricAuditRecorded:            "audit_recorded",
	MetricAuditWriteFailed:         "audit_write_failed",
}

// Name returns the stable exposition name for the metric.
func (id MetricID) Name() string {
	return metricNames[id]
}

// MetricIDs returns every counter id in declaration order, for exporters
// that need a stable iteration.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Metrics is a fixed-size atomic counter registry. All methods are safe
// for concurrent use.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// NewMetrics returns an empty registry.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc bumps one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
