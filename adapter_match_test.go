package authcore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ac "github.com/panyam/authcore"
)

func TestMatchWhere(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := ac.Record{
		"email":     "ann@example.com",
		"age":       int64(30),
		"verified":  true,
		"expiresAt": now,
		"scopes":    []string{"read", "write"},
		"image":     nil,
	}

	tests := []struct {
		name  string
		where []ac.Where
		want  bool
	}{
		{"empty", nil, true},
		{"eq", []ac.Where{ac.Eq("email", "ann@example.com")}, true},
		{"eq mismatch", []ac.Where{ac.Eq("email", "bob@example.com")}, false},
		{"default operator", []ac.Where{{Field: "email", Value: "ann@example.com"}}, true},
		{"eq across numeric types", []ac.Where{ac.Eq("age", 30)}, true},
		{"numeric string stays a string", []ac.Where{ac.Eq("age", "30")}, false},
		{"eq nil", []ac.Where{ac.Eq("image", nil)}, true},
		{"eq missing field", []ac.Where{ac.Eq("missing", nil)}, true},
		{"ne", []ac.Where{{Field: "email", Operator: ac.OpNe, Value: "bob@example.com"}}, true},
		{"lt", []ac.Where{{Field: "age", Operator: ac.OpLt, Value: 31}}, true},
		{"lte", []ac.Where{{Field: "age", Operator: ac.OpLte, Value: 30}}, true},
		{"gt", []ac.Where{{Field: "age", Operator: ac.OpGt, Value: 30}}, false},
		{"gte", []ac.Where{{Field: "age", Operator: ac.OpGte, Value: 30.0}}, true},
		{"time lt", []ac.Where{{Field: "expiresAt", Operator: ac.OpLt, Value: now.Add(time.Second)}}, true},
		{"time against string", []ac.Where{ac.Eq("expiresAt", now.Format(time.RFC3339Nano))}, true},
		{"bool", []ac.Where{ac.Eq("verified", true)}, true},
		{"in", []ac.Where{{Field: "email", Operator: ac.OpIn, Value: []string{"x@example.com", "ann@example.com"}}}, true},
		{"in miss", []ac.Where{{Field: "email", Operator: ac.OpIn, Value: []any{"x@example.com"}}}, false},
		{"contains substring", []ac.Where{{Field: "email", Operator: ac.OpContains, Value: "@example"}}, true},
		{"contains element", []ac.Where{{Field: "scopes", Operator: ac.OpContains, Value: "write"}}, true},
		{"starts with", []ac.Where{{Field: "email", Operator: ac.OpStartsWith, Value: "ann"}}, true},
		{"ends with", []ac.Where{{Field: "email", Operator: ac.OpEndsWith, Value: ".org"}}, false},
		{"and", []ac.Where{ac.Eq("email", "ann@example.com"), ac.Eq("verified", false)}, false},
		{
			"or matches one",
			[]ac.Where{
				{Field: "email", Value: "bob@example.com", Connector: ac.Or},
				{Field: "age", Value: 30, Connector: ac.Or},
			},
			true,
		},
		{
			"or matches none",
			[]ac.Where{
				{Field: "email", Value: "bob@example.com", Connector: ac.Or},
				{Field: "age", Value: 31, Connector: ac.Or},
			},
			false,
		},
		{
			"and still binds with or",
			[]ac.Where{
				ac.Eq("verified", false),
				{Field: "age", Value: 30, Connector: ac.Or},
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ac.MatchWhere(rec, tt.where))
		})
	}
}

func TestApplyQuery(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	var records []ac.Record
	for i, name := range []string{"carol", "ann", "bob", "dan"} {
		records = append(records, ac.Record{"name": name, "createdAt": base.Add(time.Duration(i) * time.Hour), "n": i})
	}
	records = append(records, ac.Record{"n": 9})

	names := func(recs []ac.Record) []any {
		out := make([]any, len(recs))
		for i, r := range recs {
			out[i] = r["name"]
		}
		return out
	}

	t.Run("sort by name", func(t *testing.T) {
		got := ac.ApplyQuery(records, ac.FindManyQuery{SortBy: &ac.SortBy{Field: "name"}})
		assert.Equal(t, []any{nil, "ann", "bob", "carol", "dan"}, names(got), "missing fields sort first")
	})

	t.Run("sort desc with paging", func(t *testing.T) {
		got := ac.ApplyQuery(records, ac.FindManyQuery{
			Where:  []ac.Where{{Field: "n", Operator: ac.OpLt, Value: 9}},
			SortBy: &ac.SortBy{Field: "createdAt", Desc: true},
			Offset: 1,
			Limit:  2,
		})
		assert.Equal(t, []any{"bob", "ann"}, names(got))
	})

	t.Run("offset past end", func(t *testing.T) {
		got := ac.ApplyQuery(records, ac.FindManyQuery{Offset: 10})
		assert.Empty(t, got)
	})

	t.Run("input untouched", func(t *testing.T) {
		ac.ApplyQuery(records, ac.FindManyQuery{SortBy: &ac.SortBy{Field: "name"}})
		assert.Equal(t, "carol", records[0]["name"])
	})
}
