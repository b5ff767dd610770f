package authcore

import (
	"context"
	"time"
)

// Provider is an OAuth 2.0 identity provider speaking the authorization
// code flow with PKCE. Implementations live in the oauth2 package.
type Provider interface {
	ID() string
	Name() string
	// AuthorizationURL is where the user agent is sent to consent.
	AuthorizationURL(state, codeVerifier, redirectURI string, scopes []string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*OAuthTokens, error)
	UserInfo(ctx context.Context, tokens *OAuthTokens) (*OAuthUserInfo, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*OAuthTokens, error)
}

// SignUpPolicy is implemented by providers that restrict implicit user
// creation.
type SignUpPolicy interface {
	// DisableSignUp stops the provider from creating users at all.
	DisableSignUp() bool
	// RequireRequestSignUp creates users only when the sign-in request
	// explicitly asked for it.
	RequireRequestSignUp() bool
}

// OAuthTokens is the token bundle returned by a provider.
type OAuthTokens struct {
	AccessToken           string
	RefreshToken          string
	IDToken               string
	TokenType             string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	Scopes                []string
}

// OAuthUserInfo is the provider's view of the user.
type OAuthUserInfo struct {
	// ID is the provider's stable account id.
	ID            string
	Email         string
	Name          string
	Image         string
	EmailVerified bool
	Raw           map[string]any
}

// record maps the bundle onto account fields. Empty values are left out so
// that an update keeps what is stored.
func (t *OAuthTokens) record() Record {
	rec := Record{}
	if t == nil {
		return rec
	}
	if t.AccessToken != "" {
		rec["accessToken"] = t.AccessToken
	}
	if t.RefreshToken != "" {
		rec["refreshToken"] = t.RefreshToken
	}
	if t.IDToken != "" {
		rec["idToken"] = t.IDToken
	}
	if !t.AccessTokenExpiresAt.IsZero() {
		rec["accessTokenExpiresAt"] = t.AccessTokenExpiresAt
	}
	if !t.RefreshTokenExpiresAt.IsZero() {
		rec["refreshTokenExpiresAt"] = t.RefreshTokenExpiresAt
	}
	if len(t.Scopes) > 0 {
		rec["scope"] = JoinScopes(t.Scopes)
	}
	return rec
}

// tokensFromAccount reads the stored bundle back.
func tokensFromAccount(acc *Account) *OAuthTokens {
	t := &OAuthTokens{
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		IDToken:      acc.IDToken,
		TokenType:    "Bearer",
	}
	if acc.AccessTokenExpiresAt != nil {
		t.AccessTokenExpiresAt = *acc.AccessTokenExpiresAt
	}
	if acc.RefreshTokenExpiresAt != nil {
		t.RefreshTokenExpiresAt = *acc.RefreshTokenExpiresAt
	}
	t.Scopes = ParseScopes(acc.Scope)
	return t
}

func (a *Auth) provider(id string) (Provider, error) {
	p, ok := a.providers[id]
	if !ok {
		return nil, NewNotFoundError(CodeProviderNotFound, "provider not found: "+id)
	}
	return p, nil
}

// redirectURI is the callback endpoint registered with provider id.
func (a *Auth) redirectURI(id string) string {
	return a.endpointURL("/callback/"+id, nil)
}
