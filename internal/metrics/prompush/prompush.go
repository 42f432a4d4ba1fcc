// Package prompush implements a metrics backend that pushes to a Prometheus
// Pushgateway. Batch jobs are too short-lived to be scraped, so collectors
// live in a private registry and Flush pushes the whole registry.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"productload/internal/metrics"
)

const namespace = "productload"

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	pusher *push.Pusher

	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	recordsTotal *prometheus.CounterVec
	batchesTotal prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewBackend builds a Pushgateway backend for job at gatewayURL.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}
	if job == "" {
		job = "productload"
	}

	b := &Backend{
		stepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "total",
			Help:      "Executed load steps by status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Duration of load steps in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"step", "status"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "total",
			Help:      "Records read, inserted or indexed.",
		}, []string{"kind"}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batches",
			Name:      "total",
			Help:      "Bulk write batches issued.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search index HTTP requests by status.",
		}, []string{"status"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "errors_total",
			Help:      "Failed search index HTTP requests by status.",
		}, []string{"status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "request_duration_seconds",
			Help:      "Search index HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}

	reg := prometheus.NewRegistry()
	for _, c := range b.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

func (b *Backend) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		b.stepTotal, b.stepDuration, b.recordsTotal, b.batchesTotal,
		b.httpRequests, b.httpErrors, b.httpDuration,
	}
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.stepTotal.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if labels["kind"] == "" {
			return
		}
		b.recordsTotal.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchesTotal.Add(delta)
	case metrics.HTTPRequestsTotal:
		b.httpRequests.WithLabelValues(status(labels)).Add(delta)
	case metrics.HTTPErrorsTotal:
		b.httpErrors.WithLabelValues(status(labels)).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	switch name {
	case metrics.StepDurationSeconds:
		b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
	case metrics.HTTPRequestDurationSeconds:
		b.httpDuration.WithLabelValues(status(labels)).Observe(value)
	}
}

// Flush pushes the registry, replacing the job's previous group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func status(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
