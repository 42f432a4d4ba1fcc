// Package batch splits an in-memory row set into fixed-size chunks and hands
// them to a sink in order.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"productload/internal/metrics"
)

const (
	// DefaultRelationalSize is the chunk size for relational inserts.
	DefaultRelationalSize = 10000
	// DefaultSearchSize is the chunk size for search-index bulk requests.
	DefaultSearchSize = 1000
)

// Logger is satisfied by *log.Logger and *logrus.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Sink writes one chunk. Chunks are contiguous slices of the input and must
// not be retained after the call returns.
type Sink[T any] func(ctx context.Context, chunk []T) error

// Stats reports what a Load wrote.
type Stats struct {
	Rows    int
	Chunks  int
	Elapsed time.Duration
}

// Chunks returns the number of chunks Load makes for n rows of size.
func Chunks(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Load calls sink once per chunk of at most size rows, in input order. The
// first sink error aborts the load and is returned with the chunk number.
// Context cancellation is checked between chunks.
func Load[T any](ctx context.Context, name string, rows []T, size int, sink Sink[T], logger Logger) (Stats, error) {
	if size <= 0 {
		return Stats{}, fmt.Errorf("load %s: batch size must be positive, got %d", name, size)
	}
	if sink == nil {
		return Stats{}, fmt.Errorf("load %s: sink is nil", name)
	}
	logf := log.Printf
	if logger != nil {
		logf = logger.Printf
	}

	start := time.Now()
	st := Stats{}
	var err error
	defer func() { metrics.RecordStep("load_"+name, start, err) }()

	total := Chunks(len(rows), size)
	for i := 0; i < total; i++ {
		if err = ctx.Err(); err != nil {
			return st, fmt.Errorf("load %s: %w", name, err)
		}

		lo := i * size
		hi := lo + size
		if hi > len(rows) {
			hi = len(rows)
		}

		if err = sink(ctx, rows[lo:hi]); err != nil {
			err = fmt.Errorf("load %s: chunk %d/%d (rows %d-%d): %w", name, i+1, total, lo, hi-1, err)
			return st, err
		}
		st.Rows += hi - lo
		st.Chunks++
		metrics.RecordBatch()
	}

	st.Elapsed = time.Since(start)
	metrics.RecordRecords("written", st.Rows)
	logf("stage=load table=%s rows=%d chunks=%d duration=%s", name, st.Rows, st.Chunks, durMS(start))
	return st, nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
