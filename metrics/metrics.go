// Package metrics holds the Prometheus instruments exported by the
// ingestion, search and repair subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_indexed_total",
			Help: "Total number of events written to case indexes",
		},
		[]string{"format"},
	)

	DedupFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_dedup_hash_fallbacks_total",
			Help: "Dedup keys computed from a degraded hash basis",
		},
		[]string{"basis"},
	)

	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_files_processed_total",
			Help: "Source files moved to a terminal processing state",
		},
		[]string{"outcome"},
	)

	IncompatibleIndexes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_incompatible_indexes_total",
			Help: "Index compatibility checks that required a full re-index",
		},
	)

	ScrollBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_scroll_batches_total",
			Help: "Batches pulled through scroll export cursors",
		},
	)

	ExportTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_export_truncations_total",
			Help: "Scroll exports cut short by a caller-supplied cap",
		},
	)

	RepairActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_repair_actions_total",
			Help: "Consistency repair actions committed, by detection kind",
		},
		[]string{"kind"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_task_queue_depth",
			Help: "Tasks currently pending in the processing queue",
		},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_tasks_processed_total",
			Help: "Queue tasks finished by workers",
		},
		[]string{"status"},
	)
)
