package storage

// TableSpec describes one table to create. Column types use portable names
// (int, bigint, float, text, varchar(N)) that each backend maps to native types.
type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
	Indexes     []IndexSpec      `json:"indexes,omitempty"`
}

// PrimaryKeySpec names the primary key column. Type "serial" requests an
// auto-increment key; any other type is a caller-supplied key.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// References is "table(column)" for a foreign key.
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IndexSpec is a secondary (non-unique) index.
type IndexSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// ColumnNames returns the primary key (if any) followed by the column names.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// NotNull is a convenience for ColumnSpec.Nullable.
func NotNull() *bool {
	f := false
	return &f
}
