// Package metrics exposes the process counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	Derivatives = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "derivatives_total",
		Help:      "Derivatives rendered, by family or preset pack.",
	}, []string{"family"})

	DerivativeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snaptosize",
		Name:      "derivative_seconds",
		Help:      "Time to resize and encode one derivative.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"family"})

	ArchiveBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snaptosize",
		Name:      "archive_bytes",
		Help:      "Compressed size of produced archives.",
		Buckets:   prometheus.ExponentialBuckets(64<<10, 2, 10),
	})

	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "gate_decisions_total",
		Help:      "Entitlement gate outcomes.",
	}, []string{"decision"})

	OracleCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "oracle_calls_total",
		Help:      "Entitlement oracle answers: entitled, negative, unavailable or cached.",
	}, []string{"result"})

	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted by the registry.",
	})

	JobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "jobs_finished_total",
		Help:      "Jobs finalized, by terminal status and error kind.",
	}, []string{"status", "kind"})

	UploadAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snaptosize",
		Name:      "upload_attempts_total",
		Help:      "Blob upload attempts by outcome.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Derivatives,
		DerivativeSeconds,
		ArchiveBytes,
		GateDecisions,
		OracleCalls,
		JobsEnqueued,
		JobsFinished,
		UploadAttempts,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
