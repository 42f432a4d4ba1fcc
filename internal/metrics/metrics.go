// Package metrics is the backend-agnostic instrumentation seam used by the
// loaders. Core code only talks to this package; concrete backends (Datadog,
// Prometheus Pushgateway) live in subpackages and are selected by cmd/etl.
//
// The default backend is a no-op, so library code can record unconditionally.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions (e.g. {"step": "load", "status": "ok"}).
type Labels map[string]string

// Backend receives counter increments and histogram observations.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and submit on demand.
type Flusher interface {
	Flush() error
}

// Metric names shared by all backends.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"

	HTTPRequestsTotal          = "etl_http_requests_total"
	HTTPErrorsTotal            = "etl_http_errors_total"
	HTTPRequestDurationSeconds = "etl_http_request_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend if it buffers; otherwise it is a no-op.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IncCounter forwards to the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordStep counts one execution of step and records its duration.
// A non-nil err marks the step as failed.
func RecordStep(step string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, time.Since(started).Seconds(), l)
}

// RecordRecords counts n records of the given kind ("read", "inserted", "indexed").
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one flushed batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordHTTP records one search-index HTTP call. status is the response code
// as text, or "error" when no response was received.
func RecordHTTP(status string, dur time.Duration, failed bool) {
	l := Labels{"status": status}
	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if failed {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, dur.Seconds(), l)
}
