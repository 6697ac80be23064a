// Package row defines the dynamic record shape that flows between the
// decoder, the store, and the audit recorder. Per the "dynamic dict rows"
// design note, decode and insert stay on a generic map; only the data
// model's named structures (CompanyState, SyncSession, AuditEvent) get
// explicit Go fields.
package row

import "encoding/json"

// CompanyColumn is the implicit multi-tenancy column the Synchronizer
// stamps onto every row before it reaches the Store.
const CompanyColumn = "_company"

// GuidColumn is the conventional destination column name for a Primary
// table's Gateway GUID.
const GuidColumn = "guid"

// AlterIDColumn is the conventional destination column name for a row's
// Gateway AlterID, used by the diff phase.
const AlterIDColumn = "alter_id"

// Row maps destination column name to coerced value.
type Row map[string]any

// Clone returns a shallow copy, safe to mutate independently of the
// original (values themselves are not deep-copied, matching the coerced
// scalar types ResponseDecoder produces).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithCompany returns a copy of r with CompanyColumn set to company.
func (r Row) WithCompany(company string) Row {
	out := r.Clone()
	out[CompanyColumn] = company
	return out
}

// Guid returns the row's GUID column as a string, or "" if absent.
func (r Row) Guid() string {
	v, _ := r[GuidColumn].(string)
	return v
}

// AlterID returns the row's AlterID column, coercing through float64 (the
// numeric kind ResponseDecoder produces) to int64.
func (r Row) AlterID() int64 {
	switch v := r[AlterIDColumn].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// JSON serialises r for audit/diff snapshots. A nil Row serialises as JSON
// null rather than "{}", matching the "no before/after" case for
// INSERT/DELETE events.
func (r Row) JSON() ([]byte, error) {
	if r == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(r)
}

// ChangedColumns returns the keys present in `after` whose value differs
// from the corresponding value in `before`, the same naive comparison
// audit_service.py's log_update performs. Columns only present in before
// (dropped by the Gateway) are not reported — a future extension point,
// not something the current field set exercises.
func ChangedColumns(before, after Row) []string {
	var changed []string
	for k, v := range after {
		if bv, ok := before[k]; !ok || bv != v {
			changed = append(changed, k)
		}
	}
	return changed
}
