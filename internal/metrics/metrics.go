// Package metrics defines the Prometheus collectors exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxphone_actions_total",
		Help: "Device actions executed, by action and outcome.",
	}, []string{"action", "outcome"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxphone_turns_total",
		Help: "Conversation turns, by how the assistant replied.",
	}, []string{"reply"})

	assistantLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxphone_assistant_request_seconds",
		Help:    "Latency of assistant requests.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	statusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxphone_session_status",
		Help: "1 for the current session status, 0 otherwise.",
	}, []string{"status"})
)

const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
	OutcomeUnknown     = "unknown"
)

func ActionDone(action, outcome string) {
	actionsTotal.WithLabelValues(action, outcome).Inc()
}

func TurnDone(reply string) {
	turnsTotal.WithLabelValues(reply).Inc()
}

func AssistantLatency(seconds float64) {
	assistantLatency.Observe(seconds)
}

// Status flips the status gauge to current.
func Status(all []string, current string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		statusGauge.WithLabelValues(s).Set(v)
	}
}
