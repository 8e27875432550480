// Package metrics exposes pipeline and job counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. Each instance owns its registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted   prometheus.Counter
	JobsFinished    *prometheus.CounterVec // by terminal status
	JobsRunning     prometheus.Gauge
	FramesProcessed prometheus.Counter
	EventsEmitted   *prometheus.CounterVec // by event type
	ProcessingFPS   prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec // by method, route, status
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_jobs_submitted_total",
			Help: "Jobs created through the control plane",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_jobs_finished_total",
			Help: "Jobs that reached a terminal status",
		}, []string{"status"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_jobs_running",
			Help: "Jobs currently holding a worker slot",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_frames_processed_total",
			Help: "Frames that went through every pipeline stage",
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_events_total",
			Help: "Temporal events raised by the analyzer",
		}, []string{"type"}),
		ProcessingFPS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_run_processing_fps",
			Help:    "Average processing fps of finished runs",
			Buckets: []float64{1, 5, 10, 15, 20, 30, 45, 60, 120, 240},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_http_requests_total",
			Help: "HTTP requests served by the control plane",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsSubmitted,
		m.JobsFinished,
		m.JobsRunning,
		m.FramesProcessed,
		m.EventsEmitted,
		m.ProcessingFPS,
		m.HTTPRequests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
