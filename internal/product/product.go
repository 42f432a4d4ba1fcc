// Package product defines the flat product record shared by the CSV reader,
// the relational loaders and the search-index document builder.
package product

// Canonical field names, as produced by header normalization
// ("Internal ID" -> "internal_id").
const (
	FieldIndex        = "index"
	FieldName         = "name"
	FieldDescription  = "description"
	FieldBrand        = "brand"
	FieldCategory     = "category"
	FieldPrice        = "price"
	FieldCurrency     = "currency"
	FieldStock        = "stock"
	FieldEAN          = "ean"
	FieldColor        = "color"
	FieldSize         = "size"
	FieldAvailability = "availability"
	FieldInternalID   = "internal_id"
)

// Fields lists every record field in storage order.
var Fields = []string{
	FieldIndex,
	FieldName,
	FieldDescription,
	FieldBrand,
	FieldCategory,
	FieldPrice,
	FieldCurrency,
	FieldStock,
	FieldEAN,
	FieldColor,
	FieldSize,
	FieldAvailability,
	FieldInternalID,
}

// Categorical lists the fields normalized into lookup tables.
var Categorical = []string{FieldBrand, FieldCategory, FieldColor, FieldAvailability}

// Record is one product row. Nil pointers are null values.
type Record struct {
	Index        int64
	Name         *string
	Description  *string
	Brand        *string
	Category     *string
	Price        *float64
	Currency     *string
	Stock        *int64
	EAN          *string
	Color        *string
	Size         *string
	Availability *string
	InternalID   *string
}

// Field returns the value of a named field, or nil when the field is null or
// unknown. Non-null values are returned dereferenced.
func (r *Record) Field(name string) any {
	switch name {
	case FieldIndex:
		return r.Index
	case FieldName:
		return deref(r.Name)
	case FieldDescription:
		return deref(r.Description)
	case FieldBrand:
		return deref(r.Brand)
	case FieldCategory:
		return deref(r.Category)
	case FieldPrice:
		return deref(r.Price)
	case FieldCurrency:
		return deref(r.Currency)
	case FieldStock:
		return deref(r.Stock)
	case FieldEAN:
		return deref(r.EAN)
	case FieldColor:
		return deref(r.Color)
	case FieldSize:
		return deref(r.Size)
	case FieldAvailability:
		return deref(r.Availability)
	case FieldInternalID:
		return deref(r.InternalID)
	}
	return nil
}

// Values returns the values of fields, in order.
func (r *Record) Values(fields []string) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = r.Field(f)
	}
	return out
}

// StringField returns a categorical/string field and whether it is non-null.
func (r *Record) StringField(name string) (string, bool) {
	v, ok := r.Field(name).(string)
	return v, ok
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Ptr returns a pointer to v. Handy for building records in tests.
func Ptr[T any](v T) *T { return &v }
