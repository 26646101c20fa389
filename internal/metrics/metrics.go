// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// Metrics holds every collector the engine registers.
type Metrics struct {
	registry *prometheus.Registry

	// CycleEvents counts engine events by type.
	CycleEvents *prometheus.CounterVec
	// SlipsPlaced counts accepted slips.
	SlipsPlaced prometheus.Counter

	// HTTPRequests and HTTPDuration instrument the API server.
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New builds the engine's metrics on a fresh registry with the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		CycleEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "oddyssey_cycle_events_total",
			Help: "Engine cycle events by type.",
		}, []string{"type"}),
		SlipsPlaced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "oddyssey_slips_placed_total",
			Help: "Slips accepted through the API.",
		}),
		HTTPRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "oddyssey_http_requests_total",
			Help: "API requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oddyssey_http_request_duration_seconds",
			Help:    "API request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one completed API request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RunEventCounter counts engine events off the bus until the context ends.
func (m *Metrics) RunEventCounter(ctx context.Context, bus domain.EventBus) error {
	events, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.CycleEvents.WithLabelValues(ev.Type).Inc()
		}
	}
}
