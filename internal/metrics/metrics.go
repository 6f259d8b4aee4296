package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProcessedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_processed_total", Help: "Total outbox events pushed to the CRM"},
		[]string{"entity"},
	)
	FailedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_failed_total", Help: "Total failed CRM pushes"},
		[]string{"entity"},
	)
	DLQEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_dlq_total", Help: "Total events inserted into DLQ"},
		[]string{"entity"},
	)
	EnqueueFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sync_enqueue_failed_total", Help: "Sync events that could not be written to the outbox"},
	)
	SearchIndexFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "search_index_failed_total", Help: "Lead documents the search mirror rejected"},
	)
	ReconcileItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconcile_items_total", Help: "Reconciliation outcomes by partition"},
		[]string{"partition", "outcome"},
	)
	MissionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "missions_completed_total", Help: "Leads that reached 100 percent"},
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProcessedEvents,
			FailedEvents,
			DLQEvents,
			EnqueueFailures,
			SearchIndexFailures,
			ReconcileItems,
			MissionsCompleted,
		)
	})
}
