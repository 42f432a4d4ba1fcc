package search

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"productload/internal/product"
)

// DefaultExcludeFields are left out of indexed documents.
var DefaultExcludeFields = []string{product.FieldCurrency, product.FieldEAN, product.FieldInternalID}

// Document is one indexed product. ID is the product index.
type Document struct {
	ID     string
	Source map[string]any
}

// DocumentBuilder turns product records into documents.
type DocumentBuilder struct {
	// Exclude lists fields to drop. Nil means DefaultExcludeFields; an empty
	// non-nil slice keeps every field.
	Exclude []string
	// StripHTML reduces the description to its text content.
	StripHTML bool
}

// Build converts recs in order. Null fields are kept as JSON null.
func (b DocumentBuilder) Build(recs []product.Record) []Document {
	exclude := b.Exclude
	if exclude == nil {
		exclude = DefaultExcludeFields
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, f := range exclude {
		skip[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	out := make([]Document, len(recs))
	for i := range recs {
		r := &recs[i]
		src := make(map[string]any, len(product.Fields))
		for _, f := range product.Fields {
			if _, ok := skip[f]; ok {
				continue
			}
			src[f] = r.Field(f)
		}
		if b.StripHTML {
			if d, ok := src[product.FieldDescription].(string); ok {
				src[product.FieldDescription] = StripHTML(d)
			}
		}
		out[i] = Document{ID: strconv.FormatInt(r.Index, 10), Source: src}
	}
	return out
}

// StripHTML returns the text content of an HTML fragment with whitespace
// collapsed. Input that does not parse is returned unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
