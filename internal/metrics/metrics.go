// Package metrics exposes Prometheus instrumentation for the gateway's two
// long-running pipelines. Label sets are kept deliberately small:
//
//   - kind:    flush kind ("create" or "edit")
//   - outcome: terminal classification of an operation
//     (flushes: "ok", "abandoned";
//     image jobs: "ok", "content_policy", "connectivity", "invalid")
//   - quota:   which gate denied ("text", "image")
//
// All collectors are registered on the default registry and are safe for
// concurrent use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlushesTotal counts outgoing send/edit operations by kind and outcome.
	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stream_flushes_total",
			Help: "Total number of streaming flush operations.",
		},
		[]string{"kind", "outcome"},
	)

	// FlushRetries counts individual retry attempts inside flush retry loops.
	FlushRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_stream_flush_retries_total",
			Help: "Total number of flush retry attempts after transport failures.",
		},
	)

	// StreamDuration records wall-clock time of whole streamed responses.
	StreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_stream_duration_seconds",
			Help:    "Duration of complete streamed responses in seconds.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)

	// ImageJobsTotal counts image jobs by outcome.
	ImageJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_image_jobs_total",
			Help: "Total number of image generation jobs.",
		},
		[]string{"outcome"},
	)

	// ImageJobsInflight gauges currently running image jobs across requests.
	ImageJobsInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_image_jobs_inflight",
			Help: "Current number of in-flight image generation jobs.",
		},
	)

	// QuotaDenials counts requests refused at the entry point by a gate.
	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_quota_denials_total",
			Help: "Total number of requests denied by a per-user quota gate.",
		},
		[]string{"quota"},
	)
)
