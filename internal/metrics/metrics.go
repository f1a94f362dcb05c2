package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	InvoicesGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Invoices produced by generation runs, by mode",
	}, []string{"mode"})

	InvoicesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_failed_total",
		Help: "Per-customer failures during generation runs",
	})

	MeteringQueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metering_query_errors_total",
		Help: "Failed usage queries, by provider",
	}, []string{"provider"})

	GenerationRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_run_duration_seconds",
		Help:    "Wall time of a full invoice generation run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
