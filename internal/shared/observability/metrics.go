package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migrator_batch_seconds",
		Help:    "Time spent running one transactional migration batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"schema", "operation"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_batches_total",
		Help: "Total number of migration batches by outcome.",
	}, []string{"schema", "operation", "outcome"})

	MigrationsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "migrator_migrations_executed_total",
		Help: "Total number of migration scripts executed inside batches.",
	}, []string{"schema", "direction"})

	MigratedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migrator_migrated",
		Help: "Number of migrations currently applied per schema.",
	}, []string{"schema"})

	PendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migrator_pending",
		Help: "Number of migrations currently pending per schema.",
	}, []string{"schema"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migrator_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	FileReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "migrator_file_reloads_total",
		Help: "Total number of migration file re-reads triggered by edits.",
	})
)
