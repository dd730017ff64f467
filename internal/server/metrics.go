package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// apiMetricsOnce ensures metrics are only registered once.
var apiMetricsOnce sync.Once

// apiMetricsInstance is the singleton instance of API metrics.
var apiMetricsInstance *APIMetrics

// APIMetrics holds all Prometheus metrics for the HTTP surface.
type APIMetrics struct {
	RequestsTotal   *prometheus.CounterVec   // sitedocs_api_requests_total{route,method,status}
	RequestDuration *prometheus.HistogramVec // sitedocs_api_request_duration_seconds{route}

	ArchivePurgedTotal prometheus.Counter // sitedocs_archive_purged_objects_total
}

// InitAPIMetrics initializes all API metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitAPIMetrics(registry prometheus.Registerer) *APIMetrics {
	apiMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		apiMetricsInstance = &APIMetrics{
			RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "sitedocs_api_requests_total",
				Help: "Total API requests by route, method and status",
			}, []string{"route", "method", "status"}),

			RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "sitedocs_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"route"}),

			ArchivePurgedTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "sitedocs_archive_purged_objects_total",
				Help: "Total archived objects removed by the purge job",
			}),
		}
	})
	return apiMetricsInstance
}
