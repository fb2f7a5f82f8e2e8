package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Status transitions
	// ============================================
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_status_transitions_total",
			Help: "Total number of committed payment status transitions",
		},
		[]string{"from", "to"},
	)

	RejectedTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_status_transitions_rejected_total",
			Help: "Total number of transitions refused by the status graph",
		},
		[]string{"from", "to"},
	)

	HistoryIntegrityFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_history_integrity_faults_total",
		Help: "Total number of payments whose status history failed verification",
	})

	QuotaLockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_quota_lock_rejections_total",
		Help: "Total number of LP quota locks refused for lack of capacity",
	})

	// ============================================
	// Chain events
	// ============================================
	ChainEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_chain_events_total",
			Help: "Total number of escrow contract events handled",
		},
		[]string{"kind", "outcome"},
	)

	SubscriptionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_chain_subscription_status",
		Help: "Chain event subscription status (1=active, 0=inactive)",
	})

	PollRPCErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_poll_rpc_errors_total",
		Help: "Total number of RPC failures during reconciliation polling",
	})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_poll_duration_seconds",
		Help:    "Reconciliation poll batch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Retry queue
	// ============================================
	RetryQueueOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_retry_queue_outcomes_total",
			Help: "Total number of retry queue entry outcomes",
		},
		[]string{"outcome"},
	)

	// ============================================
	// Background jobs
	// ============================================
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_job_runs_total",
			Help: "Total number of periodic job ticks by outcome",
		},
		[]string{"job", "outcome"},
	)

	// ============================================
	// Notifications
	// ============================================
	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_notification_failures_total",
			Help: "Total number of status notifications a sink failed to deliver",
		},
		[]string{"sink"},
	)
)

// Event outcome labels.
const (
	OutcomeApplied   = "applied"
	OutcomeQueued    = "queued"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
	OutcomeProcessed = "processed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeRecovered = "recovered"
	OutcomeRequeued  = "requeued"
	OutcomeIntegrity = "integrity_fault"
	OutcomeSkipped   = "skipped"
)
