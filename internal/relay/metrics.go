package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors on an isolated
// prometheus.Registry so instances never collide with the global default
// registry. Each test constructs its own Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Clients is the number of live connection supervisors.
	Clients prometheus.Gauge

	// Pairs is the number of mutual pairings.
	Pairs prometheus.Gauge

	// Signals counts successfully forwarded signals by payload kind.
	Signals *prometheus.CounterVec

	// Errors counts parse, validation, rate-limit, and delivery failures.
	Errors prometheus.Counter
}

// NewMetrics creates a Metrics instance with all collectors registered on
// a fresh registry, plus the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of live WebSocket connections.",
		}),
		Pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_pairs",
			Help: "Number of mutual peer pairings.",
		}),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_signals_total",
				Help: "Signals forwarded to a destination, by payload kind.",
			},
			[]string{"kind"},
		),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_errors_total",
			Help: "Parse, validation, rate-limit, and delivery failures.",
		}),
	}

	reg.MustRegister(m.Clients, m.Pairs, m.Signals, m.Errors)
	return m
}

// Handler returns the exposition handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
