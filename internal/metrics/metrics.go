package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MigrationsTotal counts migrations reaching a state, by migration type
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_migrations_total",
			Help: "Total number of migration state transitions",
		},
		[]string{"type", "state"},
	)

	// MigrationDuration tracks end-to-end migration time
	MigrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_migration_duration_seconds",
			Help:    "Migration processing duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"type"},
	)

	// PendingMigrations tracks migrations not yet in a terminal state
	PendingMigrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_pending_migrations",
			Help: "Number of migrations in progress",
		},
	)

	// FailedMigrations tracks migrations in the failed state
	FailedMigrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_failed_migrations",
			Help: "Number of failed migrations awaiting retry",
		},
	)

	// EventsDetected counts events observed on each chain
	EventsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_detected_total",
			Help: "Total number of bridge events detected",
		},
		[]string{"universe", "event_type"},
	)

	// TransactionsSent counts transactions sent to each chain
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transactions_sent_total",
			Help: "Total number of transactions sent",
		},
		[]string{"universe", "status"},
	)

	// GasBumps counts same-nonce replacements of stalled transactions
	GasBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_gas_bumps_total",
			Help: "Total number of stalled transactions replaced with a higher gas price",
		},
		[]string{"universe"},
	)

	// ConfirmationWait tracks time from submission to confirmation
	ConfirmationWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_confirmation_wait_seconds",
			Help:    "Time from submission to confirmation in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"universe"},
	)

	// ChainReachable is 1 while the universe endpoint answers, 0 otherwise
	ChainReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_chain_reachable",
			Help: "Whether the universe endpoint is reachable",
		},
		[]string{"universe"},
	)

	// ErrorsTotal counts errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// GasUsed tracks gas used per contract call
	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_gas_used",
			Help:    "Gas used for relay transactions",
			Buckets: []float64{21000, 50000, 100000, 200000, 300000, 500000, 1000000},
		},
		[]string{"operation"},
	)

	// RateLimited counts premint requests refused by the rate limiter
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Total number of requests refused by the rate limiter",
		},
	)
)
