package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus views of the core counters, served at /metrics by the ops
// server. The in-process Collector stays the source for the summary and
// histogram admin endpoints; these exist for scraping.
var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyalert_rule_evaluations_total",
			Help: "Total rule evaluations",
		},
		[]string{"rule_id"},
	)

	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyalert_triggers_total",
			Help: "Total trigger events emitted",
		},
		[]string{"rule_id", "priority"},
	)

	CooldownBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyalert_cooldown_blocks_total",
			Help: "Matches refused by the cooldown coordinator",
		},
		[]string{"rule_id"},
	)

	CooldownFallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyalert_cooldown_fallback_active",
			Help: "1 while the cooldown coordinator runs on its process-local fallback",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyalert_cycle_duration_seconds",
			Help:    "Evaluation cycle duration",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyalert_deliveries_total",
			Help: "Delivery outcomes by channel type and status",
		},
		[]string{"channel_type", "status"}, // status: sent, failed
	)

	DeliveryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skyalert_delivery_attempts",
			Help:    "Attempts needed per completed delivery",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	DeliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyalert_delivery_queue_depth",
			Help: "Current delivery queue depth",
		},
	)
)
