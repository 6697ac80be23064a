// Package tablespec holds the declarative description of every replicated
// table: which Gateway collection it comes from, which fields to pull, and
// how deletions cascade. A Document is loaded once at startup and never
// mutated afterward.
package tablespec

// Nature distinguishes tables that own a GUID and participate in
// incremental diffing (Primary) from child rows keyed by a parent's GUID
// and purged only by cascade (Secondary).
type Nature string

const (
	Primary   Nature = "Primary"
	Secondary Nature = "Secondary"
)

// FieldKind drives both the expression template ReportBuilder emits and the
// coercion ResponseDecoder applies on the way back.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindLogical  FieldKind = "logical"
	KindDate     FieldKind = "date"
	KindNumber   FieldKind = "number"
	KindAmount   FieldKind = "amount"
	KindQuantity FieldKind = "quantity"
	KindRate     FieldKind = "rate"
)

// FieldSpec is one column of a TableSpec.
type FieldSpec struct {
	Name string    `json:"name,omitempty"`
	Expr string    `json:"field"`
	Kind FieldKind `json:"type,omitempty"`
}

// CascadeRule names a child table and the foreign-key column that should be
// purged when a Primary row with a matching GUID is removed.
type CascadeRule struct {
	Table         string `json:"table"`
	ForeignColumn string `json:"foreign_column"`
}

// TableSpec is the declarative description of one destination table.
type TableSpec struct {
	Name          string        `json:"name"`
	Collection    string        `json:"collection"`
	Nature        Nature        `json:"nature"`
	Fields        []FieldSpec   `json:"fields"`
	Fetch         []string      `json:"fetch,omitempty"`
	Filters       []string      `json:"filters,omitempty"`
	CascadeDelete []CascadeRule `json:"cascade_delete,omitempty"`
}

// FieldNames returns the destination column names in FieldSpec order —
// the same order ReportBuilder uses to assign Fld01/F01 positions, which
// ResponseDecoder relies on to map tags back to columns.
func (t TableSpec) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Document is the full declarative table-spec file: master tables loaded
// before transaction tables, each processed in declaration order.
type Document struct {
	Master      []TableSpec `json:"master"`
	Transaction []TableSpec `json:"transaction"`
}

// All returns every TableSpec, master first, in declaration order.
func (d Document) All() []TableSpec {
	out := make([]TableSpec, 0, len(d.Master)+len(d.Transaction))
	out = append(out, d.Master...)
	out = append(out, d.Transaction...)
	return out
}

// ByName looks up a TableSpec by its destination name.
func (d Document) ByName(name string) (TableSpec, bool) {
	for _, t := range d.All() {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
