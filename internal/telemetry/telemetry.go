// Package telemetry provides the Prometheus metrics registry for vodarr.
// Each component owns a metrics struct registered on a private registry so
// tests can build isolated instances without global collector collisions.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Stream   *StreamMetrics
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	streamMetrics, err := NewStreamMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("creating stream metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Stream:   streamMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
