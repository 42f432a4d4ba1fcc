// Package probe samples the head of a product CSV and reports per-field
// null and uniqueness statistics, so lookup-table candidates and dirty
// columns show up before a full load.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"productload/internal/parser/csv"
	"productload/internal/product"
	"productload/internal/storage"
)

const (
	// DefaultMaxBytes is the sample size read from the start of the source.
	DefaultMaxBytes = 1 << 20

	distinctCapPerField = 10000
	maxCandidates       = 5
	candidateMaxRatio   = 0.90
)

// Options control sampling.
type Options struct {
	// MaxBytes to sample from the start of the source; <= 0 means DefaultMaxBytes.
	MaxBytes int
	// CSV is passed to the product reader. Its Limit also caps the sample.
	CSV csv.Options
}

// FieldStats describes one product field over the sample.
type FieldStats struct {
	Field string
	// Values counts rows where the field is non-null.
	Values int
	Nulls  int
	// Distinct is bounded by the per-field cap; Capped reports hitting it.
	Distinct int
	Capped   bool
}

// Ratio is Distinct/Values, or 0 without values.
func (s FieldStats) Ratio() float64 {
	if s.Values == 0 {
		return 0
	}
	return float64(s.Distinct) / float64(s.Values)
}

// Report is the result of probing one sample.
type Report struct {
	SampledBytes int
	SampledRows  int
	// Truncated is set when the source was longer than the sample.
	Truncated bool
	Fields    []FieldStats
}

// File opens path and probes it.
func File(ctx context.Context, path string, opt Options) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("probe: %w", err)
	}
	defer f.Close()
	return Sample(ctx, f, opt)
}

// Sample reads at most opt.MaxBytes from r, cuts the sample at the last
// complete line and computes field statistics. Rows that fail to parse fail
// the probe with the reader's line-numbered error.
func Sample(ctx context.Context, r io.Reader, opt Options) (Report, error) {
	n := opt.MaxBytes
	if n <= 0 {
		n = DefaultMaxBytes
	}

	// One extra byte tells a source of exactly n bytes from a longer one.
	buf, err := io.ReadAll(io.LimitReader(r, int64(n)+1))
	if err != nil {
		return Report{}, fmt.Errorf("probe: read sample: %w", err)
	}
	rep := Report{}
	if len(buf) > n {
		rep.Truncated = true
		buf = buf[:n]
		if i := bytes.LastIndexByte(buf, '\n'); i > 0 {
			buf = buf[:i+1]
		}
	}
	rep.SampledBytes = len(buf)

	recs, err := csv.ReadProducts(ctx, bytes.NewReader(buf), opt.CSV)
	if err != nil {
		return rep, fmt.Errorf("probe: %w", err)
	}
	rep.SampledRows = len(recs)
	rep.Fields = fieldStats(recs)
	return rep, nil
}

func fieldStats(recs []product.Record) []FieldStats {
	out := make([]FieldStats, len(product.Fields))
	for i, f := range product.Fields {
		out[i].Field = f
		seen := make(map[string]struct{})
		for j := range recs {
			v := recs[j].Field(f)
			if v == nil {
				out[i].Nulls++
				continue
			}
			out[i].Values++
			if out[i].Capped {
				continue
			}
			seen[storage.NormalizeKey(v)] = struct{}{}
			if len(seen) >= distinctCapPerField {
				out[i].Capped = true
				seen = nil
			}
		}
		if out[i].Capped {
			out[i].Distinct = distinctCapPerField
		} else {
			out[i].Distinct = len(seen)
		}
	}
	return out
}

// LookupCandidates returns up to five text fields whose values repeat
// enough to be worth a lookup table, most repetitive first.
func (r Report) LookupCandidates() []string {
	cands := make([]FieldStats, 0, len(r.Fields))
	for _, s := range r.Fields {
		if !textField(s.Field) || s.Values == 0 || s.Ratio() > candidateMaxRatio {
			continue
		}
		cands = append(cands, s)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Ratio() == cands[j].Ratio() {
			return cands[i].Field < cands[j].Field
		}
		return cands[i].Ratio() < cands[j].Ratio()
	})

	out := make([]string, 0, maxCandidates)
	for _, c := range cands {
		out = append(out, c.Field)
		if len(out) == maxCandidates {
			break
		}
	}
	return out
}

func textField(f string) bool {
	switch f {
	case product.FieldIndex, product.FieldPrice, product.FieldStock:
		return false
	}
	return true
}

// Format renders the report as aligned text, fields in storage order.
func (r Report) Format() string {
	if r.SampledRows == 0 {
		return "probe: no rows sampled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "sampled_rows=%d sampled_bytes=%d truncated=%t\n", r.SampledRows, r.SampledBytes, r.Truncated)
	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\t%-7s\tratio\tcapped\n", "field", "values", "nulls", "unique")
	for _, s := range r.Fields {
		fmt.Fprintf(&b, "%-15s\t%-7d\t%-7d\t%-7d\t%.1f%%\t%t\n", s.Field, s.Values, s.Nulls, s.Distinct, s.Ratio()*100, s.Capped)
	}
	if c := r.LookupCandidates(); len(c) > 0 {
		fmt.Fprintf(&b, "lookup candidates: %s\n", strings.Join(c, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
