package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	TransactionsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_transactions_reconciled_total",
		Help: "Transactions moved to a new state by reconciliation",
	}, []string{"origin", "state"})

	TransactionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_transaction_timeouts_total",
		Help: "Transactions forced to fail after exceeding the processing timeout",
	}, []string{"asset"})

	LedgerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_ledger_errors_total",
		Help: "Total number of ledger errors by type",
	}, []string{"asset", "error_type"})

	LedgerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkrunner_ledger_call_seconds",
		Help:    "Time taken by ledger calls",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"method"})

	ActionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_actions_created_total",
		Help: "The total number of created actions",
	}, []string{"kind"})

	ActionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_actions_completed_total",
		Help: "Actions that reached a terminal state",
	}, []string{"kind", "state"})

	PlanRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkrunner_plan_rounds",
		Help:    "Number of rounds in returned plans",
		Buckets: prometheus.LinearBuckets(0, 1, 6),
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkrunner_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"method"})

	RateLimitBucketsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkrunner_rate_limit_buckets_swept_total",
		Help: "Expired rate limit buckets removed by the sweeper",
	})

	FeeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkrunner_fee_cache_hits_total",
		Help: "Fee lookups served from the cache",
	})

	FeeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkrunner_fee_cache_misses_total",
		Help: "Fee lookups that required a fetch",
	})

	FeeFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkrunner_fee_fetch_errors_total",
		Help: "Failed fee fetches",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkrunner_reconcile_seconds",
		Help:    "Time taken to reconcile one action",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	PendingActions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkrunner_pending_actions",
		Help: "The number of non-terminal actions found by the last reconcile sweep",
	})

	DroppedReconcileJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkrunner_reconcile_jobs_dropped_total",
		Help: "Reconcile jobs dropped because the queue was full",
	})
)
