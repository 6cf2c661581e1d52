package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_cycles_total",
		Help: "Total number of matching cycles started.",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_cycles_skipped_total",
		Help: "Total number of ticks skipped because a cycle was in flight.",
	})

	UpdatesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrigger_updates_processed_total",
		Help: "Total number of location updates sent to a terminal state, labelled by status.",
	}, []string{"status"})

	UpdatesSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_updates_superseded_total",
		Help: "Total number of stale pending updates superseded by deduplication.",
	})

	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrigger_rules_matched_total",
		Help: "Total number of spatial rule matches, labelled by rule ID.",
	}, []string{"rule_id"})

	OutcomesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrigger_outcomes_total",
		Help: "Total number of recorded rule outcomes, labelled by result (executed, failed, or skip reason).",
	}, []string{"result"})

	LedgerSubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotrigger_ledger_submission_duration_seconds",
		Help:    "Submit-plus-confirmation latency of ledger calls.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotrigger_cycle_duration_ms",
		Help:    "End-to-end matching cycle latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	SweepsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_sweeps_total",
		Help: "Total number of maintenance sweeps that found work and ran.",
	})

	OutcomesRewritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_outcomes_rewritten_total",
		Help: "Total number of rate-limit outcomes rewritten by the sweeper.",
	})

	UpdatesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geotrigger_updates_purged_total",
		Help: "Total number of location updates deleted by retention cleanup.",
	})
)
