// Package observability implements C10: Prometheus metrics and health-score
// reporting for the ingestion and retrieval pipeline, grounded on the
// package-level promauto var-block pattern used across the example pack.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageExecTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corepipe",
			Name:      "stage_exec_total",
			Help:      "Total stage executions by stage and outcome",
		},
		[]string{"stage", "status"},
	)

	StageExecDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corepipe",
			Name:      "stage_exec_duration_seconds",
			Help:      "Duration of stage executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage"},
	)

	DLQEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corepipe",
			Name:      "dlq_entries_total",
			Help:      "Total jobs dead-lettered by severity",
		},
		[]string{"severity"},
	)

	BudgetUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "budget_usage_ratio",
			Help:      "Fraction of the daily transcription budget used today",
		},
	)

	QuotaUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "quota_usage_ratio",
			Help:      "Fraction of a service's daily quota used today",
		},
		[]string{"service"},
	)

	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corepipe",
			Name:      "alerts_emitted_total",
			Help:      "Total alerts emitted by type and status (sent/throttled/failed)",
		},
		[]string{"alert_type", "status"},
	)

	RetrievalLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corepipe",
			Name:      "retrieval_latency_seconds",
			Help:      "End-to-end retrieval request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RunHealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "corepipe",
			Name:      "run_health_score",
			Help:      "Most recent daily run's health score (0-100)",
		},
	)
)
