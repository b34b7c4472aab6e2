package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsync/pkg/domain"
)

// Metrics exposes pipeline and HTTP counters on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	documentsTotal   *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec
	syncRunsTotal    *prometheus.CounterVec
	syncFilesTotal   *prometheus.CounterVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docsync",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "worker",
			Name:      "documents_total",
			Help:      "Total processed documents by backend and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsync",
			Subsystem: "worker",
			Name:      "document_duration_seconds",
			Help:      "Document processing duration in seconds by backend and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "outcome"},
	)
	syncRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total per-user sync runs by outcome.",
		},
		[]string{"outcome"},
	)
	syncFilesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsync",
			Subsystem: "sync",
			Name:      "files_total",
			Help:      "Total files seen by sync runs, by stage.",
		},
		[]string{"stage"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		documentsTotal,
		documentDuration,
		syncRunsTotal,
		syncFilesTotal,
	)

	return &Metrics{
		registry:         registry,
		requestTotal:     requestTotal,
		requestDuration:  requestDuration,
		requestInFlight:  requestInFlight,
		documentsTotal:   documentsTotal,
		documentDuration: documentDuration,
		syncRunsTotal:    syncRunsTotal,
		syncFilesTotal:   syncFilesTotal,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDocumentProcessed records one processed document.
func (m *Metrics) ObserveDocumentProcessed(provider, outcome string, duration time.Duration) {
	m.documentsTotal.WithLabelValues(provider, outcome).Inc()
	m.documentDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// ObserveSyncRun records the outcome of one per-user sync run.
func (m *Metrics) ObserveSyncRun(report domain.SyncReport, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.syncRunsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		return
	}
	m.syncFilesTotal.WithLabelValues("discovered").Add(float64(report.Discovered))
	m.syncFilesTotal.WithLabelValues("downloaded").Add(float64(report.Downloaded))
	m.syncFilesTotal.WithLabelValues("upserted").Add(float64(report.Upserted))
	m.syncFilesTotal.WithLabelValues("failed").Add(float64(len(report.Errors)))
}
