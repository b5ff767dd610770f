// Package storetest holds the behaviour every authcore storage backend must
// share. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

// RunAdapterTests exercises newAdapter against the adapter contract. Each
// subtest gets a fresh adapter.
func RunAdapterTests(t *testing.T, newAdapter func(t *testing.T) ac.Adapter) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	seed := func(t *testing.T, db ac.Adapter) {
		for i, email := range []string{"a@x.com", "b@x.com", "c@y.com"} {
			_, err := db.Create(ctx, "user", ac.Record{
				"id":            email,
				"name":          "user " + email,
				"email":         email,
				"emailVerified": i%2 == 0,
				"createdAt":     base.Add(time.Duration(i) * time.Hour),
				"updatedAt":     base,
			})
			require.NoError(t, err)
		}
	}

	t.Run("CreateAndFindOne", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		rec, err := db.FindOne(ctx, "user", []ac.Where{ac.Eq("email", "b@x.com")})
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", rec.String("id"))
		assert.Equal(t, "user b@x.com", rec.String("name"))
		assert.True(t, rec.Time("createdAt").Equal(base.Add(time.Hour)))
	})

	t.Run("CreateAssignsID", func(t *testing.T) {
		db := newAdapter(t)
		rec, err := db.Create(ctx, "verification", ac.Record{
			"identifier": "email-verification:abc",
			"value":      "v",
			"expiresAt":  base,
			"createdAt":  base,
			"updatedAt":  base,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.String("id"))
	})

	t.Run("FindOneMissing", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		_, err := db.FindOne(ctx, "user", []ac.Where{ac.Eq("email", "nobody@x.com")})
		assert.ErrorIs(t, err, ac.ErrRecordNotFound)
	})

	t.Run("FindManyOperators", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		cases := []struct {
			name  string
			where []ac.Where
			want  []string
		}{
			{"ends_with", []ac.Where{{Field: "email", Operator: ac.OpEndsWith, Value: "@x.com"}}, []string{"a@x.com", "b@x.com"}},
			{"starts_with", []ac.Where{{Field: "email", Operator: ac.OpStartsWith, Value: "c@"}}, []string{"c@y.com"}},
			{"in", []ac.Where{{Field: "email", Operator: ac.OpIn, Value: []string{"a@x.com", "c@y.com"}}}, []string{"a@x.com", "c@y.com"}},
			{"ne", []ac.Where{{Field: "email", Operator: ac.OpNe, Value: "a@x.com"}}, []string{"b@x.com", "c@y.com"}},
			{"gt date", []ac.Where{{Field: "createdAt", Operator: ac.OpGt, Value: base}}, []string{"b@x.com", "c@y.com"}},
			{"or", []ac.Where{
				{Field: "email", Value: "a@x.com", Connector: ac.Or},
				{Field: "email", Value: "c@y.com", Connector: ac.Or},
			}, []string{"a@x.com", "c@y.com"}},
			{"and with or", []ac.Where{
				ac.Eq("emailVerified", true),
				{Field: "email", Value: "b@x.com", Connector: ac.Or},
				{Field: "email", Value: "c@y.com", Connector: ac.Or},
			}, []string{"c@y.com"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				recs, err := db.FindMany(ctx, "user", ac.FindManyQuery{
					Where:  tc.where,
					SortBy: &ac.SortBy{Field: "createdAt"},
				})
				require.NoError(t, err)
				var got []string
				for _, r := range recs {
					got = append(got, r.String("id"))
				}
				assert.Equal(t, tc.want, got)
			})
		}
	})

	t.Run("FindManySortAndPage", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		recs, err := db.FindMany(ctx, "user", ac.FindManyQuery{
			SortBy: &ac.SortBy{Field: "createdAt", Desc: true},
			Limit:  2,
			Offset: 1,
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "b@x.com", recs[0].String("id"))
		assert.Equal(t, "a@x.com", recs[1].String("id"))
	})

	t.Run("Count", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		n, err := db.Count(ctx, "user", []ac.Where{{Field: "email", Operator: ac.OpContains, Value: "@x."}})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("Update", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		rec, err := db.Update(ctx, "user", []ac.Where{ac.Eq("id", "a@x.com")}, ac.Record{"name": "renamed"})
		require.NoError(t, err)
		assert.Equal(t, "renamed", rec.String("name"))
		assert.Equal(t, "a@x.com", rec.String("email"))

		_, err = db.Update(ctx, "user", []ac.Where{ac.Eq("id", "missing")}, ac.Record{"name": "x"})
		assert.ErrorIs(t, err, ac.ErrRecordNotFound)
	})

	t.Run("UpdateMany", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		n, err := db.UpdateMany(ctx, "user", []ac.Where{{Field: "email", Operator: ac.OpEndsWith, Value: "@x.com"}}, ac.Record{"emailVerified": true})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		verified, err := db.Count(ctx, "user", []ac.Where{ac.Eq("emailVerified", true)})
		require.NoError(t, err)
		assert.EqualValues(t, 3, verified)
	})

	t.Run("Delete", func(t *testing.T) {
		db := newAdapter(t)
		seed(t, db)
		require.NoError(t, db.Delete(ctx, "user", []ac.Where{ac.Eq("id", "a@x.com")}))
		_, err := db.FindOne(ctx, "user", []ac.Where{ac.Eq("id", "a@x.com")})
		assert.ErrorIs(t, err, ac.ErrRecordNotFound)

		n, err := db.DeleteMany(ctx, "user", []ac.Where{{Field: "email", Operator: ac.OpIn, Value: []string{"b@x.com", "c@y.com", "zz"}}})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = db.DeleteMany(ctx, "user", []ac.Where{ac.Eq("id", "b@x.com")})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

// RunStorageTests exercises a SecondaryStorage. advance moves the store's
// notion of time forward; stores driven by the wall clock pass nil and
// cover expiry themselves.
func RunStorageTests(t *testing.T, store ac.SecondaryStorage, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "k1", "v1", 0))
		v, ok, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, store.Delete(ctx, "k1"))
		_, ok, err = store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "never-set")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, store.Delete(ctx, "never-set"))
	})

	t.Run("Expiry", func(t *testing.T) {
		if advance == nil {
			t.Skip("store has no controllable clock")
		}
		require.NoError(t, store.Set(ctx, "short", "v", 2*time.Second))
		require.NoError(t, store.Set(ctx, "long", "v", time.Hour))
		advance(3 * time.Second)
		_, ok, err := store.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = store.Get(ctx, "long")
		require.NoError(t, err)
		assert.True(t, ok)
	})
	sets, ok := store.(ac.SetStorage)
	if !ok {
		return
	}
	t.Run("Sets", func(t *testing.T) {
		members, err := sets.SetMembers(ctx, "never-added")
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, sets.SetAdd(ctx, "idx", "b", time.Hour))
		require.NoError(t, sets.SetAdd(ctx, "idx", "a", time.Minute))
		require.NoError(t, sets.SetAdd(ctx, "idx", "a", time.Minute))
		members, err = sets.SetMembers(ctx, "idx")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)

		require.NoError(t, sets.SetRemove(ctx, "idx", "b"))
		require.NoError(t, sets.SetRemove(ctx, "idx", "missing"))
		members, err = sets.SetMembers(ctx, "idx")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members)

		if advance != nil {
			advance(30 * time.Minute)
			members, err = sets.SetMembers(ctx, "idx")
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, members, "a shorter ttl does not shorten the set")
			advance(time.Hour)
			members, err = sets.SetMembers(ctx, "idx")
			require.NoError(t, err)
			assert.Empty(t, members)
		}

		require.NoError(t, sets.SetAdd(ctx, "gone", "x", 0))
		require.NoError(t, store.Delete(ctx, "gone"))
		members, err = sets.SetMembers(ctx, "gone")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
