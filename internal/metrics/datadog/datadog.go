// Package datadog submits load metrics to Datadog through the official API
// client.
//
// Counters and histogram samples are buffered per series (metric name plus
// tag set) and submitted on a ticker and once more on Close, so a long
// initial load shows up as a time series rather than one point at exit.
// Every series carries the tags of the Run it belongs to, which lets
// dashboards split the same metric by database backend, schema variant and
// search index.
package datadog

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"productload/internal/metrics"
)

const prefix = "productload."

// seriesNames maps backend-agnostic metric names to Datadog ones.
var seriesNames = map[string]string{
	metrics.StepTotal:                  prefix + "step.count",
	metrics.StepDurationSeconds:        prefix + "step.duration",
	metrics.RecordsTotal:               prefix + "records",
	metrics.BatchesTotal:               prefix + "batches",
	metrics.HTTPRequestsTotal:          prefix + "search.requests",
	metrics.HTTPErrorsTotal:            prefix + "search.errors",
	metrics.HTTPRequestDurationSeconds: prefix + "search.request_duration",
}

// SeriesName returns the Datadog metric name for a metrics package name.
func SeriesName(name string) string {
	if s, ok := seriesNames[name]; ok {
		return s
	}
	return prefix + strings.ReplaceAll(strings.TrimPrefix(name, "etl_"), "_", ".")
}

// Run describes the load being measured. Empty fields produce no tag,
// except Job and Env which fall back to "productload" and $DD_ENV.
type Run struct {
	Job      string
	Env      string
	Database string // storage backend kind, e.g. "mysql"
	Schema   string // relational schema variant
	Index    string // search index name
}

// Tags returns the run's tags in a fixed order.
func (r Run) Tags() []string {
	job := r.Job
	if job == "" {
		job = "productload"
	}
	env := strings.TrimSpace(r.Env)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("DD_ENV"))
	}
	if env == "" {
		env = "unknown"
	}

	tags := []string{"job:" + job, "env:" + env}
	for _, kv := range [][2]string{{"db", r.Database}, {"schema", r.Schema}, {"index", r.Index}} {
		if v := strings.TrimSpace(kv[1]); v != "" {
			tags = append(tags, kv[0]+":"+v)
		}
	}
	return tags
}

// Options configures a Backend.
type Options struct {
	Run Run

	// Tags are appended to the run tags, e.g. from metrics.tags.
	Tags []string

	// FlushEvery is the submit period; <= 0 means one minute.
	FlushEvery time.Duration

	// Test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter submitter
}

// submitter is the part of *datadogV2.MetricsApi the backend uses.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// seriesKey identifies one buffered series. tags holds the label tags,
// sorted and comma-joined.
type seriesKey struct {
	metric string
	tags   string
}

// buffer is what accumulates between two flushes.
type buffer struct {
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

func newBuffer() buffer {
	return buffer{counts: make(map[seriesKey]float64), samples: make(map[seriesKey][]float64)}
}

func (b buffer) empty() bool { return len(b.counts) == 0 && len(b.samples) == 0 }

// Backend implements metrics.Backend and metrics.Flusher.
type Backend struct {
	api      submitter
	ctx      context.Context
	runTags  []string
	now      func() time.Time
	interval time.Duration
	ticker   func(d time.Duration) *time.Ticker

	stop chan struct{}
	done chan struct{}

	mu  sync.Mutex
	buf buffer
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend starts a backend that flushes every opts.FlushEvery. The API
// key and site come from DD_API_KEY and DD_SITE, read by the client;
// network errors surface from Flush and Close.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, fmt.Errorf("datadog metrics init: nil context")
	}

	b := &Backend{
		api:      opts.submitter,
		ctx:      dd.NewDefaultContext(parent),
		runTags:  append(opts.Run.Tags(), opts.Tags...),
		now:      opts.now,
		interval: opts.FlushEvery,
		ticker:   opts.newTicker,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		buf:      newBuffer(),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.interval <= 0 {
		b.interval = time.Minute
	}
	if b.ticker == nil {
		b.ticker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.done)
	t := b.ticker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stop:
			return
		}
	}
}

// Close stops the flush loop and submits what is left. Call it once.
func (b *Backend) Close() error {
	close(b.stop)
	<-b.done
	return b.Flush()
}

// IncCounter implements metrics.Backend. Non-positive deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k := seriesKey{metric: SeriesName(name), tags: labelTags(labels)}
	b.mu.Lock()
	b.buf.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. NaN and negative values are
// dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if math.IsNaN(value) || value < 0 {
		return
	}
	k := seriesKey{metric: SeriesName(name), tags: labelTags(labels)}
	b.mu.Lock()
	b.buf.samples[k] = append(b.buf.samples[k], value)
	b.mu.Unlock()
}

// Flush submits the buffered series. The buffer is swapped out before
// submitting, so a failed submit loses that window: delivery is at most once.
func (b *Backend) Flush() error {
	b.mu.Lock()
	buf := b.buf
	b.buf = newBuffer()
	b.mu.Unlock()

	if buf.empty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.series(buf, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit %d series: %w", len(payload.Series), err)
	}
	return nil
}

// series renders buf at ts. Counters become count series; each histogram
// becomes gauges named <metric>.p50, .p95, .max, .avg and .samples.
// Output is sorted by metric name, then tags.
func (b *Backend) series(buf buffer, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(buf.counts)+5*len(buf.samples))

	for _, k := range sortedKeys(buf.counts) {
		out = append(out, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, buf.counts[k], b.tags(k), ts))
	}
	for _, k := range sortedKeys(buf.samples) {
		s := slices.Clone(buf.samples[k])
		slices.Sort(s)
		var sum float64
		for _, v := range s {
			sum += v
		}
		tags := b.tags(k)
		gauge := datadogV2.METRICINTAKETYPE_GAUGE
		out = append(out,
			point(k.metric+".p50", gauge, quantile(s, 0.50), tags, ts),
			point(k.metric+".p95", gauge, quantile(s, 0.95), tags, ts),
			point(k.metric+".max", gauge, s[len(s)-1], tags, ts),
			point(k.metric+".avg", gauge, sum/float64(len(s)), tags, ts),
			point(k.metric+".samples", gauge, float64(len(s)), tags, ts),
		)
	}
	return out
}

// tags joins the run tags with the series' label tags.
func (b *Backend) tags(k seriesKey) []string {
	out := slices.Clone(b.runTags)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, ",")...)
	}
	return out
}

func point(metric string, typ datadogV2.MetricIntakeType, v float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
		Tags:   tags,
	}
}

// labelTags renders labels as sorted "key:value" tags joined by commas.
// Labels with an empty value are left out.
func labelTags(l metrics.Labels) string {
	if len(l) == 0 {
		return ""
	}
	tags := make([]string, 0, len(l))
	for k, v := range l {
		if v == "" {
			continue
		}
		tags = append(tags, k+":"+strings.ReplaceAll(v, ",", "_"))
	}
	slices.Sort(tags)
	return strings.Join(tags, ",")
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b seriesKey) int {
		if c := strings.Compare(a.metric, b.metric); c != 0 {
			return c
		}
		return strings.Compare(a.tags, b.tags)
	})
	return keys
}

// quantile returns the nearest-rank q-quantile of the sorted, non-empty s.
func quantile(s []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(s))))
	return s[min(max(rank, 1), len(s))-1]
}

// ParseTags splits a comma-separated tag list such as "env:bench,team:data".
func ParseTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
