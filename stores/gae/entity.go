//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"reflect"
	"time"

	"cloud.google.com/go/datastore"

	ac "github.com/panyam/authcore"
)

// Datastore refuses to index strings longer than 1500 bytes.
const maxIndexedString = 1500

// toProperties converts a record to an entity. The id lives in the key and
// is not stored as a property. Objects are stored as unindexed JSON.
func toProperties(rec ac.Record) datastore.PropertyList {
	props := make(datastore.PropertyList, 0, len(rec))
	for name, v := range rec {
		if name == "id" {
			continue
		}
		value, noIndex := toPropertyValue(v)
		props = append(props, datastore.Property{Name: name, Value: value, NoIndex: noIndex})
	}
	return props
}

func toPropertyValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil, bool, int64, float64, *datastore.Key:
		return v, false
	case string:
		return t, len(t) > maxIndexedString
	case int:
		return int64(t), false
	case int32:
		return int64(t), false
	case float32:
		return float64(t), false
	case time.Time:
		return t.UTC(), false
	case *time.Time:
		if t == nil {
			return nil, false
		}
		return t.UTC(), false
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, false
		}
		f, _ := t.Float64()
		return f, false
	case []byte:
		return t, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]any, rv.Len())
		for i := range items {
			items[i], _ = toPropertyValue(rv.Index(i).Interface())
		}
		return items, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, true
	}
	return string(data), true
}

// fromProperties rebuilds a record from an entity and its key.
func fromProperties(key *datastore.Key, props datastore.PropertyList) ac.Record {
	rec := make(ac.Record, len(props)+1)
	for _, p := range props {
		if p.Value == nil {
			continue
		}
		rec[p.Name] = p.Value
	}
	if key != nil {
		rec["id"] = key.Name
	}
	return rec
}

// pushdownFilters returns the clauses Datastore can evaluate itself: AND
// equality on scalar values. Everything else is matched in process.
func pushdownFilters(where []ac.Where) []ac.Where {
	var out []ac.Where
	for _, w := range where {
		if w.Connector == ac.Or || (w.Operator != ac.OpEq && w.Operator != "") || w.Field == "id" {
			continue
		}
		value, noIndex := toPropertyValue(w.Value)
		if noIndex || value == nil {
			continue
		}
		if _, isList := value.([]any); isList {
			continue
		}
		out = append(out, ac.Where{Field: w.Field, Operator: ac.OpEq, Value: value})
	}
	return out
}

// keyLookup returns the id when the clauses pin a single entity by id.
func keyLookup(where []ac.Where) (string, bool) {
	for _, w := range where {
		if w.Field != "id" || w.Connector == ac.Or || (w.Operator != ac.OpEq && w.Operator != "") {
			continue
		}
		if id, ok := w.Value.(string); ok {
			return id, true
		}
	}
	return "", false
}
