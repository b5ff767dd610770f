package authcore

import (
	"reflect"
	"slices"
	"strings"
	"time"
)

// MatchWhere reports whether rec satisfies the clauses. It is used by
// adapters that filter in process (memory, files, datastore residue).
func MatchWhere(rec Record, where []Where) bool {
	anyOr, matchedOr := false, false
	for _, w := range where {
		ok := matchClause(rec, w)
		if w.Connector == Or {
			anyOr = true
			matchedOr = matchedOr || ok
			continue
		}
		if !ok {
			return false
		}
	}
	return !anyOr || matchedOr
}

func matchClause(rec Record, w Where) bool {
	field := rec[w.Field]
	switch w.Operator {
	case OpEq, "":
		return valuesEqual(field, w.Value)
	case OpNe:
		return !valuesEqual(field, w.Value)
	case OpLt, OpLte, OpGt, OpGte:
		c, ok := compareValues(field, w.Value)
		if !ok {
			return false
		}
		switch w.Operator {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		for _, candidate := range toAnySlice(w.Value) {
			if valuesEqual(field, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		needle, _ := w.Value.(string)
		if s, ok := field.(string); ok {
			return strings.Contains(s, needle)
		}
		if items, ok := coerceStringSlice(field); ok && field != nil {
			return slices.Contains(items, needle)
		}
		return false
	case OpStartsWith:
		s, _ := field.(string)
		prefix, _ := w.Value.(string)
		return field != nil && strings.HasPrefix(s, prefix)
	case OpEndsWith:
		s, _ := field.(string)
		suffix, _ := w.Value.(string)
		return field != nil && strings.HasSuffix(s, suffix)
	}
	return false
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values after normalising times, numbers and
// booleans. ok is false when the values are not comparable.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	_, aTime := a.(time.Time)
	_, bTime := b.(time.Time)
	if aTime || bTime {
		ta, okA := coerceTime(a)
		tb, okB := coerceTime(b)
		if !okA || !okB {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if fa, ok := coerceNumber(a); ok {
		if fb, ok := coerceNumber(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := coerceBool(b)
		if !ok {
			return 0, false
		}
		return boolCompare(ba, bb), true
	}
	if bb, ok := b.(bool); ok {
		ba, ok := coerceBool(a)
		if !ok {
			return 0, false
		}
		return boolCompare(ba, bb), true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

// coerceNumber accepts only real numeric types so that numeric looking
// strings keep comparing as strings.
func coerceNumber(v any) (float64, bool) {
	if _, ok := v.(string); ok {
		return 0, false
	}
	return coerceFloat(v)
}

func boolCompare(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func toAnySlice(v any) []any {
	if items, ok := v.([]any); ok {
		return items
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// SortRecords orders records in place. Records missing the field sort first.
func SortRecords(records []Record, sortBy *SortBy) {
	if sortBy == nil || sortBy.Field == "" {
		return
	}
	slices.SortStableFunc(records, func(a, b Record) int {
		av, bv := a[sortBy.Field], b[sortBy.Field]
		var c int
		switch {
		case av == nil && bv == nil:
			c = 0
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			c, _ = compareValues(av, bv)
		}
		if sortBy.Desc {
			return -c
		}
		return c
	})
}

// ApplyQuery filters, sorts and paginates records in process.
func ApplyQuery(records []Record, query FindManyQuery) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if MatchWhere(rec, query.Where) {
			out = append(out, rec)
		}
	}
	SortRecords(out, query.SortBy)
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return []Record{}
		}
		out = out[query.Offset:]
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out
}
