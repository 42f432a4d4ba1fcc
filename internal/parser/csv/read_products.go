// Package csv reads the product dataset into product.Records.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"productload/internal/product"
)

// DefaultNullMarkers are cell values treated as null, in addition to "".
var DefaultNullMarkers = []string{"NaN", "nan", "NULL", "null", "None", "N/A"}

// requiredFields must be present in the header after normalization.
// "index" is optional and falls back to the data-row number.
var requiredFields = []string{
	product.FieldName,
	product.FieldDescription,
	product.FieldBrand,
	product.FieldCategory,
	product.FieldPrice,
	product.FieldCurrency,
	product.FieldStock,
	product.FieldEAN,
	product.FieldColor,
	product.FieldSize,
	product.FieldAvailability,
	product.FieldInternalID,
}

// Options controls how the source file is decoded.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Limit caps the number of data rows read; <= 0 reads everything.
	Limit int
	// Charset names the source encoding ("windows-1250", "iso-8859-2", ...).
	// Empty or "utf-8" reads bytes as-is.
	Charset string
	// HeaderMap maps raw (trimmed) header names to canonical field names,
	// taking precedence over the default lowercase/underscore rule.
	HeaderMap map[string]string
	// NullMarkers overrides DefaultNullMarkers when non-nil.
	NullMarkers []string
	// LazyQuotes is passed to encoding/csv.
	LazyQuotes bool
}

// ReadFile opens path and reads it with ReadProducts.
func ReadFile(ctx context.Context, path string, opt Options) ([]product.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	return ReadProducts(ctx, f, opt)
}

// ReadProducts reads a header row followed by product rows.
//
// Cells are trimmed; empty cells and null markers become nil fields. Any
// malformed record or unparsable number aborts the read with the offending
// line number.
func ReadProducts(ctx context.Context, src io.Reader, opt Options) ([]product.Record, error) {
	r, err := decodeCharset(src, opt.Charset)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.ReuseRecord = true
	cr.FieldsPerRecord = 0

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty source")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	colIx, err := indexHeader(hdr, opt.HeaderMap)
	if err != nil {
		return nil, err
	}

	nulls := opt.NullMarkers
	if nulls == nil {
		nulls = DefaultNullMarkers
	}
	isNull := make(map[string]struct{}, len(nulls)+1)
	isNull[""] = struct{}{}
	for _, n := range nulls {
		isNull[n] = struct{}{}
	}

	capHint := opt.Limit
	if capHint <= 0 || capHint > 1<<16 {
		capHint = 1 << 10
	}
	out := make([]product.Record, 0, capHint)

	for row := 1; opt.Limit <= 0 || len(out) < opt.Limit; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}

		line, _ := cr.FieldPos(0)
		cell := func(field string) *string {
			i, ok := colIx[field]
			if !ok || i >= len(rec) {
				return nil
			}
			v := strings.TrimSpace(rec[i])
			if _, null := isNull[v]; null {
				return nil
			}
			return &v
		}

		p, err := buildRecord(cell, int64(row))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}

	return out, nil
}

func buildRecord(cell func(string) *string, rowNum int64) (product.Record, error) {
	p := product.Record{
		Index:        rowNum,
		Name:         cell(product.FieldName),
		Description:  cell(product.FieldDescription),
		Brand:        cell(product.FieldBrand),
		Category:     cell(product.FieldCategory),
		Currency:     cell(product.FieldCurrency),
		EAN:          cell(product.FieldEAN),
		Color:        cell(product.FieldColor),
		Size:         cell(product.FieldSize),
		Availability: cell(product.FieldAvailability),
		InternalID:   cell(product.FieldInternalID),
	}

	if s := cell(product.FieldIndex); s != nil {
		n, err := parseInt(*s)
		if err != nil {
			return p, fmt.Errorf("index %q: %w", *s, err)
		}
		p.Index = n
	}
	if s := cell(product.FieldPrice); s != nil {
		f, err := strconv.ParseFloat(*s, 64)
		if err != nil {
			return p, fmt.Errorf("price %q: %w", *s, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return p, fmt.Errorf("price %q: not a finite number", *s)
		}
		p.Price = &f
	}
	if s := cell(product.FieldStock); s != nil {
		n, err := parseInt(*s)
		if err != nil {
			return p, fmt.Errorf("stock %q: %w", *s, err)
		}
		p.Stock = &n
	}
	return p, nil
}

// parseInt accepts integers and integral floats ("12", "12.0") that fit
// in an int64.
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer")
	}
	// 2^63 is exact as a float64; anything at or above it overflows.
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, fmt.Errorf("out of int64 range")
	}
	return int64(f), nil
}

// indexHeader maps canonical field names to column positions.
func indexHeader(hdr []string, headerMap map[string]string) (map[string]int, error) {
	idx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		idx[NormalizeHeader(h, headerMap)] = i
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := idx[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("read header: missing columns %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// NormalizeHeader returns the canonical field name for a raw header:
// an explicit mapping if present, else lowercase with spaces as underscores.
func NormalizeHeader(h string, headerMap map[string]string) string {
	if mapped, ok := headerMap[h]; ok {
		return mapped
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	cs := strings.ToLower(strings.TrimSpace(charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, fmt.Errorf("source charset %q: %w", charset, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
