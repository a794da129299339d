package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike    AlertType = "login_failure_spike"
	AlertUpstreamFailureSpike AlertType = "upstream_failure_spike"
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

// spikeWindow counts events in a sliding window and fires once per spike.
type spikeWindow struct {
	alert     AlertType
	message   string
	window    time.Duration
	threshold int
	events    []time.Time
}

func (s *spikeWindow) add(now time.Time) (AlertEvent, bool) {
	s.events = trimWindow(append(s.events, now), now, s.window)
	if len(s.events) < s.threshold {
		return AlertEvent{}, false
	}
	ev := AlertEvent{
		Type:      s.alert,
		Message:   s.message,
		Count:     len(s.events),
		Threshold: s.threshold,
		Timestamp: now,
	}
	// Reset to avoid repeated alerts within the same spike.
	s.events = s.events[:0]
	return ev, true
}

// metricsCollector turns audit events into spike alerts.
type metricsCollector struct {
	mu       sync.Mutex
	now      func() time.Time
	login    spikeWindow
	upstream spikeWindow
	alertFn  AlertFunc
}

const (
	defaultLoginFailureWindow       = 1 * time.Minute
	defaultLoginFailureThreshold    = 50
	defaultUpstreamFailureWindow    = 1 * time.Minute
	defaultUpstreamFailureThreshold = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now: time.Now,
		login: spikeWindow{
			alert:     AlertLoginFailureSpike,
			message:   "login failure rate exceeds threshold",
			window:    defaultLoginFailureWindow,
			threshold: defaultLoginFailureThreshold,
		},
		upstream: spikeWindow{
			alert:     AlertUpstreamFailureSpike,
			message:   "upstream failure rate exceeds threshold",
			window:    defaultUpstreamFailureWindow,
			threshold: defaultUpstreamFailureThreshold,
		},
		alertFn: alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	var w *spikeWindow
	switch event {
	case AuditLoginFailure:
		w = &m.login
	case AuditUpstreamFailure:
		w = &m.upstream
	default:
		return
	}

	m.mu.Lock()
	ev, fire := w.add(m.now())
	m.mu.Unlock()
	if fire {
		m.alertFn(ev)
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
