// Package metrics exposes Prometheus instrumentation for the history engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// History source metrics
	LocationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_location_requests_total",
			Help: "Total location requests issued to the history source",
		},
		[]string{"kind"},
	)

	StaleResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chathistory_stale_responses_total",
			Help: "Store responses discarded because a newer request superseded them",
		},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_store_failures_total",
			Help: "Total failed store fetches",
		},
		[]string{"kind"},
	)

	StoreFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chathistory_store_fetch_duration_seconds",
			Help:    "Store fetch latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"direction"},
	)

	// Reconciliation metrics
	DiffOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_diff_operations_total",
			Help: "List operations produced by reconciliation",
		},
		[]string{"op"}, // "delete", "insert", "update"
	)

	DiffDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chathistory_diff_duration_seconds",
			Help:    "Projection plus diff latency per snapshot",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_transitions_applied_total",
			Help: "Transitions applied to the rendering surface",
		},
		[]string{"reason"},
	)

	SequencerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chathistory_sequencer_queue_depth",
			Help: "Transitions waiting to be applied",
		},
	)

	// Visibility metrics
	ReadIndexAdvances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chathistory_read_index_advances_total",
			Help: "Read index values forwarded to the read-state writer",
		},
	)

	PaginationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_pagination_requests_total",
			Help: "Navigation requests issued by the visibility tracker",
		},
		[]string{"direction"},
	)

	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_batch_flushes_total",
			Help: "Throttled batch flushes",
		},
		[]string{"kind"},
	)

	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_batch_items_total",
			Help: "Message ids flushed by throttled batches",
		},
		[]string{"kind"},
	)

	PrefetchCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chathistory_prefetch_candidates_total",
			Help: "Media items handed to the prefetch dispatcher",
		},
		[]string{"direction"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
