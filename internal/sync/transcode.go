package sync

// Row is a single record keyed by column name. Values are the scalars
// both stores produce: int64, float64, string, bool, or nil.
type Row map[string]any

// Identity returns the row's identity value under the table's identity
// column, or nil when absent. Rows without an identity can be neither
// upserted nor targeted for deletion.
func (r Row) Identity(t Table) any {
	v, ok := r[t.IdentityColumn]
	if !ok {
		return nil
	}
	return v
}

// Clone returns a shallow copy so transcoding never mutates the caller's
// row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToRemote converts a locally stored row to the remote representation:
// each declared boolean column's 0/1 integer becomes a native bool.
// Absent and nil columns are left alone, they mean "not applicable"
// rather than false.
func ToRemote(row Row, t Table) Row {
	out := row.Clone()
	for _, col := range t.BooleanColumns {
		v, ok := out[col]
		if !ok || v == nil {
			continue
		}
		out[col] = truthy(v)
	}
	return out
}

// ToLocal is the inverse of ToRemote: boolean columns become int64 0/1.
func ToLocal(row Row, t Table) Row {
	out := row.Clone()
	for _, col := range t.BooleanColumns {
		v, ok := out[col]
		if !ok || v == nil {
			continue
		}
		if truthy(v) {
			out[col] = int64(1)
		} else {
			out[col] = int64(0)
		}
	}
	return out
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x == 1
	case int:
		return x == 1
	case float64:
		return x == 1
	default:
		return false
	}
}
