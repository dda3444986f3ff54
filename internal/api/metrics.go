package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertLockoutSpike      AlertType = "lockout_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
// A burst of failures across many remotes points at a distributed
// guessing campaign that no per-remote lockout can see on its own.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	lockouts         []time.Time
	lockoutWindow    time.Duration
	lockoutThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultLockoutWindow         = 5 * time.Minute
	defaultLockoutThreshold      = 5
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:      defaultLoginFailureWindow,
		loginThreshold:   defaultLoginFailureThreshold,
		lockoutWindow:    defaultLockoutWindow,
		lockoutThreshold: defaultLockoutThreshold,
		alertFn:          alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.recordLoginFailure()
	case AuditLoginLockedOut:
		m.recordLockout()
	}
}

func (m *metricsCollector) recordLoginFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.loginFailures = append(m.loginFailures, now)
	m.loginFailures = trimWindow(m.loginFailures, now, m.loginWindow)

	if len(m.loginFailures) >= m.loginThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(m.loginFailures),
			Threshold: m.loginThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.loginFailures = m.loginFailures[:0]
	}
}

func (m *metricsCollector) recordLockout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.lockouts = append(m.lockouts, now)
	m.lockouts = trimWindow(m.lockouts, now, m.lockoutWindow)

	if len(m.lockouts) >= m.lockoutThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertLockoutSpike,
			Message:   "lockout rate exceeds threshold",
			Count:     len(m.lockouts),
			Threshold: m.lockoutThreshold,
			Timestamp: now,
		})
		m.lockouts = m.lockouts[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
