package authcore_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

// fakeProvider answers the code flow from canned identities keyed by code.
type fakeProvider struct {
	id         string
	mu         sync.Mutex
	identities map[string]*ac.OAuthUserInfo
	tokens     map[string]*ac.OAuthTokens
	verifiers  []string
	refreshed  *ac.OAuthTokens
	refreshErr error

	disableSignUp bool
	requireSignUp bool
}

func newFakeProvider(id string) *fakeProvider {
	return &fakeProvider{id: id, identities: map[string]*ac.OAuthUserInfo{}, tokens: map[string]*ac.OAuthTokens{}}
}

func (p *fakeProvider) ID() string   { return p.id }
func (p *fakeProvider) Name() string { return "Fake " + p.id }

func (p *fakeProvider) AuthorizationURL(state, codeVerifier, redirectURI string, scopes []string) (string, error) {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}, "scope": {ac.JoinScopes(scopes)}}
	return "https://idp.example/authorize?" + q.Encode(), nil
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, codeVerifier, _ string) (*ac.OAuthTokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifiers = append(p.verifiers, codeVerifier)
	if _, ok := p.identities[code]; !ok {
		return nil, errors.New("invalid_grant")
	}
	if t, ok := p.tokens[code]; ok {
		return t, nil
	}
	return &ac.OAuthTokens{AccessToken: "at-" + code, RefreshToken: "rt-" + code, TokenType: "Bearer"}, nil
}

func (p *fakeProvider) UserInfo(_ context.Context, tokens *ac.OAuthTokens) (*ac.OAuthUserInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for code, t := range p.tokens {
		if t == tokens {
			return p.identities[code], nil
		}
	}
	return p.identities[tokens.AccessToken[len("at-"):]], nil
}

func (p *fakeProvider) RefreshAccessToken(context.Context, string) (*ac.OAuthTokens, error) {
	return p.refreshed, p.refreshErr
}

func (p *fakeProvider) DisableSignUp() bool        { return p.disableSignUp }
func (p *fakeProvider) RequireRequestSignUp() bool { return p.requireSignUp }

func (p *fakeProvider) identify(code string, info *ac.OAuthUserInfo) {
	p.identities[code] = info
}

func newOAuthEnv(t *testing.T, configure func(*ac.Options)) (*testEnv, *fakeProvider) {
	p := newFakeProvider("fake")
	env := newTestEnv(t, func(o *ac.Options) {
		o.Providers = []ac.Provider{p}
		if configure != nil {
			configure(o)
		}
	})
	return env, p
}

// startSignIn begins a social sign-in and returns the state parameter.
func startSignIn(t *testing.T, env *testEnv, in ac.SignInSocialInput) string {
	t.Helper()
	if in.Provider == "" {
		in.Provider = "fake"
	}
	redirect, err := env.auth.SignInSocial(context.Background(), in)
	require.NoError(t, err)
	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, redirect.State, u.Query().Get("state"))
	assert.Equal(t, "http://localhost:3000/api/auth/callback/fake", u.Query().Get("redirect_uri"))
	return redirect.State
}

func TestOAuth_NewUser(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	p.identify("c1", &ac.OAuthUserInfo{ID: "gh-1", Email: "New@Example.com", Name: "Newbie", EmailVerified: true})

	state := startSignIn(t, env, ac.SignInSocialInput{CallbackURL: "/home", NewUserCallbackURL: "/welcome"})
	res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state}, testMeta)
	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
	assert.Equal(t, "/welcome", res.RedirectURL)
	require.NotNil(t, res.Session)
	assert.Equal(t, "new@example.com", res.Session.User.Email)
	assert.True(t, res.Session.User.EmailVerified)
	require.Len(t, p.verifiers, 1)
	assert.NotEmpty(t, p.verifiers[0], "PKCE verifier reaches the exchange")

	accounts, err := env.auth.ListAccounts(ctx, res.Session.Session.Token)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "gh-1", accounts[0].AccountID)
	assert.Empty(t, accounts[0].AccessToken, "secrets are not listed")

	t.Run("returning user", func(t *testing.T) {
		p.tokens["c1"] = &ac.OAuthTokens{AccessToken: "at-second", Scopes: []string{"repo"}}
		state := startSignIn(t, env, ac.SignInSocialInput{CallbackURL: "/home", NewUserCallbackURL: "/welcome"})
		res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state}, testMeta)
		require.NoError(t, err)
		assert.False(t, res.IsNewUser)
		assert.Equal(t, "/home", res.RedirectURL)

		account, err := env.auth.Internal().FindAccountByProvider(ctx, "fake", "gh-1")
		require.NoError(t, err)
		assert.Equal(t, "at-second", account.AccessToken, "tokens are updated on sign-in")
		assert.Equal(t, "rt-c1", account.RefreshToken, "missing values keep what is stored")
	})
}

func TestOAuth_StateChecks(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	p.identify("c1", &ac.OAuthUserInfo{ID: "1", Email: "s@example.com", EmailVerified: true})

	t.Run("replay", func(t *testing.T) {
		state := startSignIn(t, env, ac.SignInSocialInput{})
		_, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state}, testMeta)
		require.NoError(t, err)
		res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state}, testMeta)
		requireCode(t, err, ac.CodeInvalidState)
		assert.Equal(t, "http://localhost:3000/api/auth/error?error=invalid_state", res.RedirectURL)
	})

	t.Run("tampered", func(t *testing.T) {
		state := startSignIn(t, env, ac.SignInSocialInput{})
		_, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state + "x"}, testMeta)
		requireCode(t, err, ac.CodeInvalidState)
	})

	t.Run("expired", func(t *testing.T) {
		state := startSignIn(t, env, ac.SignInSocialInput{})
		env.clock.Advance(ac.DefaultOAuthStateExpiresIn + time.Second)
		_, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c1", State: state}, testMeta)
		requireCode(t, err, ac.CodeInvalidState)
	})

	t.Run("state verified before provider error", func(t *testing.T) {
		state := startSignIn(t, env, ac.SignInSocialInput{ErrorCallbackURL: "/oops"})
		res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{State: state, Error: "access_denied"}, testMeta)
		assert.ErrorIs(t, err, ac.ErrUpstreamProvider)
		assert.Equal(t, "/oops?error=access_denied", res.RedirectURL)
	})

	t.Run("exchange failure", func(t *testing.T) {
		state := startSignIn(t, env, ac.SignInSocialInput{CallbackURL: "/home"})
		res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "unknown", State: state}, testMeta)
		requireCode(t, err, ac.CodeCodeExchangeFailed)
		assert.Equal(t, "/home?error=oauth_code_exchange_failed", res.RedirectURL)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := env.auth.SignInSocial(ctx, ac.SignInSocialInput{Provider: "nope"})
		requireCode(t, err, ac.CodeProviderNotFound)
	})

	t.Run("untrusted callback", func(t *testing.T) {
		_, err := env.auth.SignInSocial(ctx, ac.SignInSocialInput{Provider: "fake", CallbackURL: "https://evil.example"})
		requireCode(t, err, ac.CodeInvalidCallbackURL)
	})
}

func TestOAuth_ImplicitLinking(t *testing.T) {
	t.Run("unverified email is not linked", func(t *testing.T) {
		env, p := newOAuthEnv(t, nil)
		env.signUp(t, "owner@example.com")
		p.identify("c", &ac.OAuthUserInfo{ID: "x", Email: "owner@example.com", EmailVerified: false})

		state := startSignIn(t, env, ac.SignInSocialInput{})
		_, err := env.auth.HandleOAuthCallback(context.Background(), "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
		requireCode(t, err, ac.CodeAccountNotLinked)
	})

	t.Run("verified email links and verifies the user", func(t *testing.T) {
		env, p := newOAuthEnv(t, nil)
		user := env.signUp(t, "owner@example.com").User
		p.identify("c", &ac.OAuthUserInfo{ID: "x", Email: "owner@example.com", EmailVerified: true})

		state := startSignIn(t, env, ac.SignInSocialInput{})
		res, err := env.auth.HandleOAuthCallback(context.Background(), "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
		require.NoError(t, err)
		assert.False(t, res.IsNewUser)
		assert.Equal(t, user.ID, res.Session.User.ID)
		assert.True(t, res.Session.User.EmailVerified)
	})

	t.Run("trusted provider links unverified email", func(t *testing.T) {
		env, p := newOAuthEnv(t, func(o *ac.Options) {
			o.Account.AccountLinking.TrustedProviders = []string{"fake"}
		})
		user := env.signUp(t, "owner@example.com").User
		p.identify("c", &ac.OAuthUserInfo{ID: "x", Email: "owner@example.com"})

		state := startSignIn(t, env, ac.SignInSocialInput{})
		res, err := env.auth.HandleOAuthCallback(context.Background(), "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
		require.NoError(t, err)
		assert.Equal(t, user.ID, res.Session.User.ID)
		assert.False(t, res.Session.User.EmailVerified)
	})

	t.Run("linking disabled", func(t *testing.T) {
		env, p := newOAuthEnv(t, func(o *ac.Options) { o.Account.AccountLinking.Disabled = true })
		env.signUp(t, "owner@example.com")
		p.identify("c", &ac.OAuthUserInfo{ID: "x", Email: "owner@example.com", EmailVerified: true})

		state := startSignIn(t, env, ac.SignInSocialInput{})
		_, err := env.auth.HandleOAuthCallback(context.Background(), "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
		requireCode(t, err, ac.CodeAccountNotLinked)
	})
}

func TestOAuth_SignUpPolicy(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	p.identify("c", &ac.OAuthUserInfo{ID: "x", Email: "policy@example.com", EmailVerified: true})

	p.disableSignUp = true
	state := startSignIn(t, env, ac.SignInSocialInput{RequestSignUp: true})
	_, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
	requireCode(t, err, ac.CodeSignUpDisabled)

	p.disableSignUp = false
	p.requireSignUp = true
	state = startSignIn(t, env, ac.SignInSocialInput{})
	_, err = env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
	requireCode(t, err, ac.CodeSignUpDisabled)

	state = startSignIn(t, env, ac.SignInSocialInput{RequestSignUp: true})
	res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
	require.NoError(t, err)
	assert.True(t, res.IsNewUser)
}

func TestLinkSocial(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	token := env.signUp(t, "linker@example.com").Session.Token

	p.identify("mine", &ac.OAuthUserInfo{ID: "acct-1", Email: "LINKER@example.com"})
	p.tokens["mine"] = &ac.OAuthTokens{AccessToken: "at-mine", Scopes: []string{"email"}}
	redirect, err := env.auth.LinkSocial(ctx, token, ac.LinkSocialInput{Provider: "fake", CallbackURL: "/settings"})
	require.NoError(t, err)
	res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "mine", State: redirect.State}, testMeta)
	require.NoError(t, err)
	assert.Equal(t, "/settings", res.RedirectURL)
	assert.Nil(t, res.Session, "linking does not sign in")

	accounts, err := env.auth.ListAccounts(ctx, token)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	t.Run("scopes accumulate on relink", func(t *testing.T) {
		p.tokens["mine"] = &ac.OAuthTokens{AccessToken: "at-mine-2", Scopes: []string{"repo"}}
		redirect, err := env.auth.LinkSocial(ctx, token, ac.LinkSocialInput{Provider: "fake", Scopes: []string{"repo"}})
		require.NoError(t, err)
		_, err = env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "mine", State: redirect.State}, testMeta)
		require.NoError(t, err)
		account, err := env.auth.Internal().FindAccountByProvider(ctx, "fake", "acct-1")
		require.NoError(t, err)
		assert.Equal(t, "email,repo", account.Scope)
	})

	t.Run("email mismatch", func(t *testing.T) {
		p.identify("theirs", &ac.OAuthUserInfo{ID: "acct-2", Email: "someone@example.com"})
		redirect, err := env.auth.LinkSocial(ctx, token, ac.LinkSocialInput{Provider: "fake"})
		require.NoError(t, err)
		_, err = env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "theirs", State: redirect.State}, testMeta)
		requireCode(t, err, ac.CodeEmailMismatch)
	})

	t.Run("account of another user", func(t *testing.T) {
		other := env.signUp(t, "someone@example.com").Session.Token
		p.identify("dup", &ac.OAuthUserInfo{ID: "acct-1", Email: "someone@example.com"})
		redirect, err := env.auth.LinkSocial(ctx, other, ac.LinkSocialInput{Provider: "fake"})
		require.NoError(t, err)
		_, err = env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "dup", State: redirect.State}, testMeta)
		requireCode(t, err, ac.CodeAccountLinkedToOtherUser)
	})
}

func TestUnlinkAccount(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	p.identify("c", &ac.OAuthUserInfo{ID: "only", Email: "solo@example.com", EmailVerified: true})
	state := startSignIn(t, env, ac.SignInSocialInput{})
	res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
	require.NoError(t, err)
	token := res.Session.Session.Token

	err = env.auth.UnlinkAccount(ctx, token, "fake", "")
	requireCode(t, err, ac.CodeFailedToUnlinkLastAccount)
	assert.ErrorIs(t, err, ac.ErrConflict)

	requireCode(t, env.auth.UnlinkAccount(ctx, token, "github", ""), ac.CodeAccountNotFound)

	require.NoError(t, env.auth.SetPassword(ctx, token, "password123"))
	require.NoError(t, env.auth.UnlinkAccount(ctx, token, "fake", "only"))
	accounts, err := env.auth.ListAccounts(ctx, token)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ac.CredentialProviderID, accounts[0].ProviderID)

	t.Run("allow unlinking all", func(t *testing.T) {
		env, p := newOAuthEnv(t, func(o *ac.Options) { o.Account.AccountLinking.AllowUnlinkingAll = true })
		p.identify("c", &ac.OAuthUserInfo{ID: "only", Email: "solo@example.com", EmailVerified: true})
		state := startSignIn(t, env, ac.SignInSocialInput{})
		res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
		require.NoError(t, err)
		require.NoError(t, env.auth.UnlinkAccount(ctx, res.Session.Session.Token, "fake", ""))

		// The account-less user cannot be claimed by a later email sign-up.
		_, err = env.auth.SignUpEmail(ctx, ac.SignUpEmailInput{
			Name: "Intruder", Email: "solo@example.com", Password: "password123",
		}, testMeta)
		requireCode(t, err, ac.CodeUserAlreadyExists)
		_, err = env.auth.Internal().FindCredentialAccount(ctx, res.Session.User.ID)
		assert.Error(t, err)
	})
}

func TestProviderTokens(t *testing.T) {
	env, p := newOAuthEnv(t, nil)
	ctx := context.Background()
	p.identify("c", &ac.OAuthUserInfo{ID: "tok", Email: "tokens@example.com", EmailVerified: true})
	p.tokens["c"] = &ac.OAuthTokens{
		AccessToken:          "at-old",
		RefreshToken:         "rt-old",
		AccessTokenExpiresAt: testEpoch.Add(time.Hour),
		Scopes:               []string{"read"},
	}
	state := startSignIn(t, env, ac.SignInSocialInput{})
	res, err := env.auth.HandleOAuthCallback(ctx, "fake", ac.CallbackInput{Code: "c", State: state}, testMeta)
	require.NoError(t, err)
	token := res.Session.Session.Token

	got, err := env.auth.GetAccessToken(ctx, token, "fake", "")
	require.NoError(t, err)
	assert.Equal(t, "at-old", got.AccessToken, "a valid token is returned as is")

	p.refreshed = &ac.OAuthTokens{AccessToken: "at-new", AccessTokenExpiresAt: testEpoch.Add(3 * time.Hour), Scopes: []string{"write"}}
	env.clock.Advance(time.Hour)
	got, err = env.auth.GetAccessToken(ctx, token, "fake", "")
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.AccessToken)
	assert.Equal(t, "rt-old", got.RefreshToken, "the stored refresh token survives")
	assert.Equal(t, []string{"read", "write"}, got.Scopes)

	p.refreshErr = errors.New("revoked")
	_, err = env.auth.RefreshProviderToken(ctx, token, "fake", "")
	requireCode(t, err, ac.CodeFailedToRefreshAccessToken)
	assert.ErrorIs(t, err, ac.ErrUpstreamProvider)

	account, err := env.auth.Internal().FindAccountByProvider(ctx, "fake", "tok")
	require.NoError(t, err)
	assert.Equal(t, "at-new", account.AccessToken, "a failed refresh keeps the stored tokens")

	_, err = env.auth.GetAccessToken(ctx, token, "other", "")
	requireCode(t, err, ac.CodeProviderNotFound)
}
