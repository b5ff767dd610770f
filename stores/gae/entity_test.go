//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

func TestToProperties(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	long := string(make([]byte, maxIndexedString+1))
	props := toProperties(ac.Record{
		"id":        "u1",
		"email":     "a@x.com",
		"verified":  true,
		"count":     3,
		"createdAt": now,
		"tags":      []string{"a", "b"},
		"meta":      map[string]any{"k": "v"},
		"big":       long,
		"n":         json.Number("42"),
	})

	byName := map[string]datastore.Property{}
	for _, p := range props {
		byName[p.Name] = p
	}
	_, hasID := byName["id"]
	assert.False(t, hasID, "id belongs in the key")
	assert.Equal(t, "a@x.com", byName["email"].Value)
	assert.Equal(t, int64(3), byName["count"].Value)
	assert.Equal(t, int64(42), byName["n"].Value)
	assert.Equal(t, now.UTC(), byName["createdAt"].Value)
	assert.Equal(t, []any{"a", "b"}, byName["tags"].Value)
	assert.Equal(t, `{"k":"v"}`, byName["meta"].Value)
	assert.True(t, byName["meta"].NoIndex)
	assert.True(t, byName["big"].NoIndex)
	assert.False(t, byName["email"].NoIndex)
}

func TestFromProperties(t *testing.T) {
	key := datastore.NameKey("user", "u1", nil)
	rec := fromProperties(key, datastore.PropertyList{
		{Name: "email", Value: "a@x.com"},
		{Name: "image", Value: nil},
	})
	assert.Equal(t, ac.Record{"id": "u1", "email": "a@x.com"}, rec)
}

func TestPushdownFilters(t *testing.T) {
	where := []ac.Where{
		ac.Eq("userId", "u1"),
		ac.Eq("id", "s1"),
		{Field: "expiresAt", Operator: ac.OpGt, Value: time.Now()},
		{Field: "token", Operator: ac.OpEq, Value: "a", Connector: ac.Or},
		{Field: "providerId", Value: "google"},
		{Field: "count", Operator: ac.OpEq, Value: 2},
		ac.Eq("tags", []string{"x"}),
	}
	got := pushdownFilters(where)
	require.Len(t, got, 3)
	assert.Equal(t, "userId", got[0].Field)
	assert.Equal(t, "providerId", got[1].Field)
	assert.Equal(t, int64(2), got[2].Value)
}

func TestKeyLookup(t *testing.T) {
	id, ok := keyLookup([]ac.Where{ac.Eq("email", "a"), ac.Eq("id", "u1")})
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	_, ok = keyLookup([]ac.Where{{Field: "id", Value: "u1", Connector: ac.Or}})
	assert.False(t, ok)
}
