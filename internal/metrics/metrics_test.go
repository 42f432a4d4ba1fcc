package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hists    map[string]int
	flushed  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hists: map[string]int{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["status"]+labels["kind"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists[name+"|"+labels["status"]]++
}

func (r *recordingBackend) Flush() error {
	r.flushed++
	return nil
}

func TestHelpersForwardToBackend(t *testing.T) {
	rb := newRecordingBackend()
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("load", time.Now(), nil)
	RecordStep("load", time.Now(), errors.New("boom"))
	RecordRecords("inserted", 10)
	RecordRecords("inserted", 0)
	RecordBatch()
	RecordHTTP("500", time.Millisecond, true)

	assert.Equal(t, 1.0, rb.counters[StepTotal+"|ok"])
	assert.Equal(t, 1.0, rb.counters[StepTotal+"|error"])
	assert.Equal(t, 10.0, rb.counters[RecordsTotal+"|inserted"])
	assert.Equal(t, 1.0, rb.counters[BatchesTotal+"|"])
	assert.Equal(t, 1.0, rb.counters[HTTPErrorsTotal+"|500"])
	assert.Equal(t, 2, rb.hists[StepDurationSeconds+"|ok"]+rb.hists[StepDurationSeconds+"|error"])

	require.NoError(t, Flush())
	assert.Equal(t, 1, rb.flushed)
}

func TestNopBackendFlushIsNoop(t *testing.T) {
	SetBackend(nil)
	require.NoError(t, Flush())
	RecordBatch()
}
