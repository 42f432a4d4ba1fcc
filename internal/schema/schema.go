// Package schema holds the fixed table layouts of the two relational variants.
package schema

import (
	"fmt"

	"productload/internal/product"
	"productload/internal/storage"
)

const (
	DatabaseName = "test_database"

	// DenormalizedTable is the single wide table of the denormalized variant.
	DenormalizedTable = "test_table"

	BrandsTable         = "brands"
	CategoriesTable     = "categories"
	ColorsTable         = "colors"
	AvailabilitiesTable = "availabilities"
	ProductsTable       = "products"

	// Lookup tables share the (id, name) layout.
	LookupKeyColumn = "name"
	LookupIDColumn  = "id"
)

// Variant selects the relational layout.
type Variant string

const (
	VariantDenormalized Variant = "denormalized"
	VariantNormalized   Variant = "normalized"
)

// ParseVariant accepts "denormalized" or "normalized".
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantDenormalized, VariantNormalized:
		return Variant(s), nil
	}
	return "", fmt.Errorf("unknown schema variant %q (want %s or %s)", s, VariantDenormalized, VariantNormalized)
}

// Lookup pairs a categorical product field with its lookup table and the
// foreign key column on products.
type Lookup struct {
	Field    string
	Table    string
	FKColumn string
}

// Lookups lists the normalized lookup tables in creation order.
var Lookups = []Lookup{
	{Field: product.FieldBrand, Table: BrandsTable, FKColumn: "brand_id"},
	{Field: product.FieldCategory, Table: CategoriesTable, FKColumn: "category_id"},
	{Field: product.FieldColor, Table: ColorsTable, FKColumn: "color_id"},
	{Field: product.FieldAvailability, Table: AvailabilitiesTable, FKColumn: "availability_id"},
}

// Tables returns the table specs of variant.
func Tables(v Variant) ([]storage.TableSpec, error) {
	switch v {
	case VariantDenormalized:
		return Denormalized(), nil
	case VariantNormalized:
		return Normalized(), nil
	}
	return nil, fmt.Errorf("unknown schema variant %q", v)
}

// Denormalized is one table holding every product field.
func Denormalized() []storage.TableSpec {
	return []storage.TableSpec{{
		Name:       DenormalizedTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: product.FieldIndex, Type: "int"},
		Columns: []storage.ColumnSpec{
			{Name: product.FieldName, Type: "varchar(255)"},
			{Name: product.FieldDescription, Type: "text"},
			{Name: product.FieldBrand, Type: "varchar(255)"},
			{Name: product.FieldCategory, Type: "varchar(255)"},
			{Name: product.FieldPrice, Type: "float"},
			{Name: product.FieldCurrency, Type: "varchar(10)"},
			{Name: product.FieldStock, Type: "int"},
			{Name: product.FieldEAN, Type: "varchar(50)"},
			{Name: product.FieldColor, Type: "varchar(100)"},
			{Name: product.FieldSize, Type: "varchar(100)"},
			{Name: product.FieldAvailability, Type: "varchar(50)"},
			{Name: product.FieldInternalID, Type: "varchar(255)"},
		},
		Indexes: []storage.IndexSpec{
			{Name: "idx_test_table_brand", Columns: []string{product.FieldBrand}},
			{Name: "idx_test_table_category", Columns: []string{product.FieldCategory}},
		},
	}}
}

// Normalized is four lookup tables followed by products, which references
// them. Drop order is the reverse.
func Normalized() []storage.TableSpec {
	out := make([]storage.TableSpec, 0, len(Lookups)+1)
	for _, l := range Lookups {
		out = append(out, lookupTable(l.Table))
	}

	fk := func(l Lookup) storage.ColumnSpec {
		return storage.ColumnSpec{Name: l.FKColumn, Type: "int", References: l.Table + "(" + LookupIDColumn + ")"}
	}

	out = append(out, storage.TableSpec{
		Name:       ProductsTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: product.FieldIndex, Type: "int"},
		Columns: []storage.ColumnSpec{
			{Name: product.FieldName, Type: "varchar(255)"},
			{Name: product.FieldDescription, Type: "text"},
			fk(Lookups[0]),
			fk(Lookups[1]),
			{Name: product.FieldPrice, Type: "float"},
			{Name: product.FieldCurrency, Type: "varchar(10)"},
			{Name: product.FieldStock, Type: "int"},
			{Name: product.FieldEAN, Type: "varchar(50)"},
			fk(Lookups[2]),
			{Name: product.FieldSize, Type: "varchar(100)"},
			fk(Lookups[3]),
			{Name: product.FieldInternalID, Type: "varchar(255)"},
		},
		Indexes: []storage.IndexSpec{
			{Name: "idx_products_brand_id", Columns: []string{"brand_id"}},
			{Name: "idx_products_category_id", Columns: []string{"category_id"}},
		},
	})
	return out
}

func lookupTable(name string) storage.TableSpec {
	return storage.TableSpec{
		Name:       name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: LookupIDColumn, Type: "serial"},
		Columns: []storage.ColumnSpec{
			{Name: LookupKeyColumn, Type: "varchar(255)", Nullable: storage.NotNull()},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{LookupKeyColumn}}},
	}
}

// ProductColumns returns the insert column list of the products table and,
// per column, either the product field it copies or the lookup it resolves.
func ProductColumns() (columns []string, fields []string, lookups map[string]Lookup) {
	byFK := make(map[string]Lookup, len(Lookups))
	for _, l := range Lookups {
		byFK[l.FKColumn] = l
	}
	t := Normalized()[len(Lookups)]
	columns = t.ColumnNames()
	fields = make([]string, len(columns))
	lookups = map[string]Lookup{}
	for i, c := range columns {
		if l, ok := byFK[c]; ok {
			lookups[c] = l
			continue
		}
		fields[i] = c
	}
	return columns, fields, lookups
}
