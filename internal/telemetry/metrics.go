package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsReceived counts evidence events received by the registry
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmap",
			Name:      "events_received_total",
			Help:      "Total number of evidence events received",
		},
		[]string{"kind"},
	)

	// FlowsMatched counts flows resolved to connections by status
	FlowsMatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmap",
			Name:      "flows_matched_total",
			Help:      "Total number of flows matched, by connection status",
		},
		[]string{"status"},
	)

	// PacketsImported counts packets read from capture files
	PacketsImported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmap",
			Name:      "packets_imported_total",
			Help:      "Total number of packets imported from capture files",
		},
		[]string{"source"},
	)

	// PacketsSkipped counts packets the importer could not decode
	PacketsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmap",
			Name:      "packets_skipped_total",
			Help:      "Total number of packets skipped by the importer",
		},
		[]string{"source", "reason"},
	)

	// ReplaysTotal counts trail replays triggered by filter changes
	ReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowmap",
			Name:      "replays_total",
			Help:      "Total number of event trail replays",
		},
		[]string{"outcome"},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		// This prevents panics when metrics are already in the registry
		prometheus.DefaultRegisterer.Register(EventsReceived)
		prometheus.DefaultRegisterer.Register(FlowsMatched)
		prometheus.DefaultRegisterer.Register(PacketsImported)
		prometheus.DefaultRegisterer.Register(PacketsSkipped)
		prometheus.DefaultRegisterer.Register(ReplaysTotal)
	})
}
