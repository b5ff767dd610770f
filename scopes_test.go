package authcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseScopes(t *testing.T) {
	assert.Nil(t, ParseScopes(""))
	assert.Equal(t, []string{"openid", "email", "profile"}, ParseScopes("openid email,profile  email"))
	assert.Equal(t, "openid,email", JoinScopes([]string{"openid", "email"}))
}

func TestMergeScopes(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, MergeScopes([]string{"a", " b"}, []string{"b", "", "c", "a"}))
	assert.Empty(t, MergeScopes(nil, nil))
}

func TestContainsAllScopes(t *testing.T) {
	assert.True(t, ContainsAllScopes([]string{"a", "b"}, []string{"b"}))
	assert.True(t, ContainsAllScopes([]string{"a"}, nil))
	assert.False(t, ContainsAllScopes([]string{"a"}, []string{"a", "b"}))
}

func TestWithGrantedScopes(t *testing.T) {
	tokens := &OAuthTokens{AccessToken: "at", Scopes: []string{"repo"}}

	assert.Same(t, tokens, withGrantedScopes(tokens, nil))
	assert.Same(t, tokens, withGrantedScopes(tokens, &Account{}))
	assert.Same(t, tokens, withGrantedScopes(tokens, &Account{Scope: "repo"}))

	merged := withGrantedScopes(tokens, &Account{Scope: "email,user"})
	assert.Equal(t, []string{"email", "user", "repo"}, merged.Scopes)
	assert.Equal(t, "at", merged.AccessToken)
	assert.Equal(t, []string{"repo"}, tokens.Scopes, "the input is not modified")
}
