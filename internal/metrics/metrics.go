// Package metrics holds the Prometheus collectors shared by the session and
// the dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "bililive").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Nil leaves the collectors unregistered.
	Registry prometheus.Registerer
}

// Metrics is the set of collectors for one room.
type Metrics struct {
	FramesDecoded      *prometheus.CounterVec
	FrameErrors        *prometheus.CounterVec
	EventsDispatched   *prometheus.CounterVec
	HandlerPanics      *prometheus.CounterVec
	ConnectionFailures *prometheus.CounterVec
	Reconnects         prometheus.Counter
	Popularity         prometheus.Gauge
	State              prometheus.Gauge
}

// New creates the collectors and registers them with cfg.Registry.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "bililive"
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frames_decoded_total",
			Help:        "Total number of inbound frames decoded, by protocol version",
			ConstLabels: cfg.ConstLabels,
		}, []string{"version"}),

		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "frame_errors_total",
			Help:        "Total number of inbound frames skipped, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "events_dispatched_total",
			Help:        "Total number of events delivered to handlers, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		HandlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "handler_panics_total",
			Help:        "Total number of handler panics recovered, by notification",
			ConstLabels: cfg.ConstLabels,
		}, []string{"notification"}),

		ConnectionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connection_failures_total",
			Help:        "Total number of failed attempts and dropped sessions, by stage",
			ConstLabels: cfg.ConstLabels,
		}, []string{"stage"}),

		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "reconnects_total",
			Help:        "Total number of scheduled reconnect attempts",
			ConstLabels: cfg.ConstLabels,
		}),

		Popularity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "popularity",
			Help:        "Last popularity value reported by the server",
			ConstLabels: cfg.ConstLabels,
		}),

		State: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "session_state",
			Help:        "Current session state (0 idle, 1 connecting, 2 handshaking, 3 live, 4 closing)",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Discard returns unregistered collectors, for callers that do not export metrics.
func Discard() *Metrics {
	return New(Config{})
}
