package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ajaxbridge_http_requests_total",
		Help: "HTTP requests grouped by route, status and AJAX function (empty outside AJAX routes)",
	}, []string{"method", "path", "status", "function"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ajaxbridge_http_request_duration_seconds",
		Help:    "HTTP request duration grouped by route and AJAX function",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "function"})
)
