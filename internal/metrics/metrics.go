package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ajaxInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ajaxbridge_ajax_invocations_total",
		Help: "AJAX function invocations grouped by function and outcome",
	}, []string{"function", "status"})

	ajaxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ajaxbridge_ajax_duration_seconds",
		Help:    "Execution time of AJAX functions",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"function"})

	ajaxLongRunning = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ajaxbridge_ajax_long_running_total",
		Help: "AJAX invocations that exceeded the long running limit",
	}, []string{"function"})

	scriptLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ajaxbridge_loader_script_loads_total",
		Help: "External script loads completed by the resource loader grouped by outcome",
	}, []string{"status"})

	ceilingReached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ajaxbridge_loader_ceiling_reached_total",
		Help: "Inline scripts executed after the wait ceiling elapsed with loads still pending",
	})

	loaderWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ajaxbridge_loader_wait_seconds",
		Help:    "Time inline scripts waited for external scripts",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ajaxbridge_loader_envelopes_total",
		Help: "Envelopes handled by the resource loader grouped by outcome",
	}, []string{"status"})
)

// ObserveInvocation records the outcome and duration of an AJAX invocation.
func ObserveInvocation(function, status string, duration time.Duration) {
	if function == "" {
		function = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	ajaxInvocations.WithLabelValues(function, status).Inc()
	ajaxDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// ObserveLongRunning counts an invocation over the long running limit.
func ObserveLongRunning(function string) {
	ajaxLongRunning.WithLabelValues(function).Inc()
}

// ObserveScriptLoad counts a finished external script load.
func ObserveScriptLoad(success bool) {
	if success {
		scriptLoads.WithLabelValues("success").Inc()
		return
	}
	scriptLoads.WithLabelValues("failed").Inc()
}

// ObserveLoaderWait records how long an inline script waited and whether the
// ceiling cut the wait short.
func ObserveLoaderWait(d time.Duration, ceilingHit bool) {
	loaderWait.Observe(d.Seconds())
	if ceilingHit {
		ceilingReached.Inc()
	}
}

// ObserveEnvelope counts handled envelopes by outcome (success|failure).
func ObserveEnvelope(status string) {
	envelopes.WithLabelValues(status).Inc()
}
