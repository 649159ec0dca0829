// Package metrics exposes the Prometheus instruments for the sync
// engine. Everything is registered on the default registry; the /metrics
// endpoint serves it with promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections is the current number of live WebSocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_ws_connections",
		Help: "Current number of live WebSocket connections.",
	})

	// EventsTotal counts inbound frames by operation type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_total",
		Help: "Inbound WebSocket events by type.",
	}, []string{"type"})

	// BroadcastsTotal counts group broadcasts.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_broadcasts_total",
		Help: "Group broadcasts fanned out by the router.",
	})

	// StoreErrorsTotal counts storage failures surfaced to clients.
	StoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_store_errors_total",
		Help: "Storage operation failures.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
