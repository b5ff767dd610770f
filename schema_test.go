package authcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

type teamsPlugin struct{}

func (teamsPlugin) ID() string { return "teams" }

func (teamsPlugin) Schema() map[string]ac.PluginModel {
	return map[string]ac.PluginModel{
		"team": {TableName: "teams", Fields: []ac.Field{
			{Name: "name", Type: ac.FieldString, Required: true},
			{Name: "seats", Type: ac.FieldNumber, DefaultValue: int64(5)},
		}},
		ac.ModelUser: {Fields: []ac.Field{{Name: "teamId", Type: ac.FieldString}}},
	}
}

func newTestSchema(t *testing.T, opts ac.SchemaOptions, plugins ...ac.Plugin) (*ac.Schema, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	s, err := ac.NewSchema(opts, plugins, clock)
	require.NoError(t, err)
	return s, clock
}

func TestSchema_CoreModels(t *testing.T) {
	s, _ := newTestSchema(t, ac.SchemaOptions{})
	assert.Equal(t, []string{ac.ModelUser, ac.ModelSession, ac.ModelAccount, ac.ModelVerification, ac.ModelRateLimit}, s.Models())

	user, ok := s.Model(ac.ModelUser)
	require.True(t, ok)
	email, ok := user.Field("email")
	require.True(t, ok)
	assert.True(t, email.Unique)
	assert.Equal(t, "user", s.TableName(ac.ModelUser))
	assert.Equal(t, "email", s.ColumnName(ac.ModelUser, "email"))
}

func TestSchema_ParseInputCreate(t *testing.T) {
	s, clock := newTestSchema(t, ac.SchemaOptions{})

	got, err := s.ParseInput(ac.ModelUser, ac.Record{
		"id":            "chosen",
		"name":          "Ann",
		"email":         "  Ann@Example.COM ",
		"emailVerified": true,
		"role":          "admin",
	}, ac.ActionCreate, true)
	require.NoError(t, err)

	assert.NotContains(t, got, "id", "clients cannot pick ids")
	assert.NotContains(t, got, "role", "unknown fields are dropped")
	assert.Equal(t, "ann@example.com", got["email"])
	assert.Equal(t, false, got["emailVerified"], "clients cannot verify themselves")
	assert.Equal(t, clock.Now(), got["createdAt"])
	assert.Equal(t, clock.Now(), got["updatedAt"])

	server, err := s.ParseInput(ac.ModelUser, ac.Record{
		"id": "chosen", "name": "Ann", "email": "ann@example.com", "emailVerified": true,
	}, ac.ActionCreate, false)
	require.NoError(t, err)
	assert.Equal(t, "chosen", server["id"])
	assert.Equal(t, true, server["emailVerified"])
}

func TestSchema_ParseInputErrors(t *testing.T) {
	s, _ := newTestSchema(t, ac.SchemaOptions{AdditionalFields: map[string][]ac.Field{
		ac.ModelUser: {
			{Name: "age", Type: ac.FieldNumber},
			{Name: "nickname", Validate: func(v any) error {
				if len(v.(string)) > 8 {
					return errors.New("nickname is too long")
				}
				return nil
			}},
		},
	}})
	base := func(extra ac.Record) ac.Record {
		rec := ac.Record{"name": "Ann", "email": "ann@example.com"}
		for k, v := range extra {
			rec[k] = v
		}
		return rec
	}

	tests := []struct {
		name  string
		data  ac.Record
		code  string
		field string
	}{
		{"missing", ac.Record{"name": "Ann"}, ac.CodeMissingField, "email"},
		{"nil required", base(ac.Record{"email": nil}), ac.CodeMissingField, "email"},
		{"wrong type", base(ac.Record{"age": "old"}), ac.CodeInvalidField, "age"},
		{"validator", base(ac.Record{"nickname": "a very long name"}), ac.CodeInvalidField, "nickname"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ParseInput(ac.ModelUser, tt.data, ac.ActionCreate, true)
			requireCode(t, err, tt.code)
			assert.Equal(t, tt.field, ac.AsError(err).Field)
			assert.ErrorIs(t, err, ac.ErrValidation)
		})
	}

	got, err := s.ParseInput(ac.ModelUser, base(ac.Record{"age": "42"}), ac.ActionCreate, true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got["age"], "numeric strings are coerced")

	_, err = s.ParseInput("widget", ac.Record{}, ac.ActionCreate, false)
	assert.ErrorIs(t, err, ac.ErrConfiguration)
}

func TestSchema_ParseInputUpdate(t *testing.T) {
	s, clock := newTestSchema(t, ac.SchemaOptions{})
	clock.Advance(ac.DefaultSessionUpdateAge)

	got, err := s.ParseInput(ac.ModelUser, ac.Record{"name": "Bea"}, ac.ActionUpdate, true)
	require.NoError(t, err)
	assert.Equal(t, ac.Record{"name": "Bea", "updatedAt": clock.Now()}, got, "updates carry no defaults")
}

func TestSchema_ParseOutput(t *testing.T) {
	s, _ := newTestSchema(t, ac.SchemaOptions{AdditionalFields: map[string][]ac.Field{
		ac.ModelUser: {{Name: "nickname", TransformOutput: func(v any) any { return strings.ToUpper(v.(string)) }}},
	}})

	out := s.ParseOutput(ac.ModelAccount, ac.Record{"id": "a1", "providerId": "github", "accessToken": "secret", "password": "hash"})
	assert.Equal(t, ac.Record{"id": "a1", "providerId": "github"}, out)

	out = s.ParseOutput(ac.ModelUser, ac.Record{"id": "u1", "nickname": "annie", "internal": true})
	assert.Equal(t, ac.Record{"id": "u1", "nickname": "ANNIE"}, out)

	out = s.StripHidden(ac.ModelUser, ac.Record{"id": "u1", "nickname": "annie", "internal": true})
	assert.Equal(t, ac.Record{"id": "u1", "nickname": "annie"}, out, "hidden and undeclared fields go, values stay as stored")
	out = s.StripHidden(ac.ModelSession, ac.Record{"token": "t", "dontRememberMe": true})
	assert.Equal(t, ac.Record{"token": "t"}, out)
}

func TestSchema_Renames(t *testing.T) {
	s, _ := newTestSchema(t, ac.SchemaOptions{
		TableNames:  map[string]string{ac.ModelUser: "users"},
		ColumnNames: map[string]map[string]string{ac.ModelUser: {"email": "email_address", "createdAt": "created_at"}},
	})
	assert.Equal(t, "users", s.TableName(ac.ModelUser))

	stored := s.ToStorage(ac.ModelUser, ac.Record{"email": "ann@example.com", "createdAt": testEpoch, "extra": 1})
	assert.Equal(t, ac.Record{"email_address": "ann@example.com", "created_at": testEpoch, "extra": 1}, stored)

	back := s.FromStorage(ac.ModelUser, ac.Record{
		"email_address": "ann@example.com",
		"created_at":    testEpoch.Format("2006-01-02T15:04:05Z07:00"),
		"emailVerified": int64(1),
	})
	assert.Equal(t, "ann@example.com", back["email"])
	assert.Equal(t, testEpoch, back["createdAt"], "dates read back as strings are restored")
	assert.Equal(t, true, back["emailVerified"])

	where := s.WhereToStorage(ac.ModelUser, []ac.Where{{Field: "email", Value: "x"}})
	assert.Equal(t, []ac.Where{{Field: "email_address", Operator: ac.OpEq, Value: "x", Connector: ac.And}}, where)
}

func TestSchema_RenamesEndToEnd(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) {
		o.Schema.TableNames = map[string]string{ac.ModelUser: "users"}
		o.Schema.ColumnNames = map[string]map[string]string{ac.ModelUser: {"email": "email_address"}}
	})
	env.signUp(t, "renamed@example.com")

	rows, err := env.db.FindMany(context.Background(), "users", ac.FindManyQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "renamed@example.com", rows[0]["email_address"])
	assert.NotContains(t, rows[0], "email")

	env.signIn(t, "renamed@example.com")
}

func TestSchema_Plugins(t *testing.T) {
	s, _ := newTestSchema(t, ac.SchemaOptions{
		TableNames: map[string]string{"team": "org_teams"},
	}, teamsPlugin{})

	assert.Contains(t, s.Models(), "team")
	assert.Equal(t, "org_teams", s.TableName("team"), "application renames win")

	got, err := s.ParseInput("team", ac.Record{"name": "core"}, ac.ActionCreate, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got["seats"])

	user, _ := s.Model(ac.ModelUser)
	_, ok := user.Field("teamId")
	assert.True(t, ok, "plugins extend core models")
}

func TestSchema_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		opts ac.SchemaOptions
	}{
		{"table of unknown model", ac.SchemaOptions{TableNames: map[string]string{"widget": "widgets"}}},
		{"columns of unknown model", ac.SchemaOptions{ColumnNames: map[string]map[string]string{"widget": {"a": "b"}}}},
		{"unknown column", ac.SchemaOptions{ColumnNames: map[string]map[string]string{ac.ModelUser: {"nope": "b"}}}},
		{"unnamed field", ac.SchemaOptions{AdditionalFields: map[string][]ac.Field{ac.ModelUser: {{Type: ac.FieldString}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ac.NewSchema(tt.opts, nil, nil)
			assert.ErrorIs(t, err, ac.ErrConfiguration)
		})
	}
}
