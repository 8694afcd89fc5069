// Package metrics holds the switch's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deathswitch"

var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Channel send attempts by outcome (success, error, panic, timeout, skipped).",
		},
		[]string{"channel", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_seconds",
			Help:      "Duration of channel send attempts.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	ReleasePairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_pairs_total",
			Help:      "Recipient/document pairs processed during releases.",
		},
		[]string{"result"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Trigger state machine transitions.",
		},
		[]string{"from", "to"},
	)

	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "check_ins_total",
		Help:      "Accepted check-ins.",
	})

	KillSwitchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kill_switch_attempts_total",
			Help:      "Kill-switch attempts by result.",
		},
		[]string{"result"},
	)

	MonitorTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_ticks_total",
			Help:      "Monitoring loop ticks by outcome (ok, error, skipped).",
		},
		[]string{"outcome"},
	)

	MonitorLastTick = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitor_last_tick_timestamp_seconds",
		Help:      "Unix time of the last completed monitoring tick.",
	})
)
