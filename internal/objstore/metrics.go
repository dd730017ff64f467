package objstore

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetricsOnce ensures metrics are only registered once.
var storeMetricsOnce sync.Once

// storeMetricsInstance is the singleton instance of store metrics.
var storeMetricsInstance *StoreMetrics

// StoreMetrics holds all Prometheus metrics for the object-store client.
type StoreMetrics struct {
	RequestsTotal   *prometheus.CounterVec   // sitedocs_store_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // sitedocs_store_request_duration_seconds{operation}

	BytesUploaded   prometheus.Counter // sitedocs_store_bytes_uploaded_total
	BytesDownloaded prometheus.Counter // sitedocs_store_bytes_downloaded_total
}

// InitStoreMetrics initializes all object-store metrics.
// Metrics are only registered once; subsequent calls return the same instance.
func InitStoreMetrics(registry prometheus.Registerer) *StoreMetrics {
	storeMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		storeMetricsInstance = &StoreMetrics{
			RequestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "sitedocs_store_requests_total",
				Help: "Total object-store requests by operation and status",
			}, []string{"operation", "status"}),

			RequestDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "sitedocs_store_request_duration_seconds",
				Help:    "Object-store request duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),

			BytesUploaded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "sitedocs_store_bytes_uploaded_total",
				Help: "Total bytes uploaded to the object store",
			}),

			BytesDownloaded: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "sitedocs_store_bytes_downloaded_total",
				Help: "Total bytes downloaded from the object store",
			}),
		}
	})
	return storeMetricsInstance
}

// GetStoreMetrics returns the metrics singleton, or nil when metrics were
// never initialized (tests, one-shot CLI commands).
func GetStoreMetrics() *StoreMetrics {
	return storeMetricsInstance
}

// observe records one completed store call on the singleton, if initialized.
func observe(operation string, start time.Time, err error) {
	m := storeMetricsInstance
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
