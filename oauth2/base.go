// Package oauth2 provides authcore.Provider implementations on top of
// golang.org/x/oauth2: a configurable generic provider plus Google and
// GitHub.
package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"

	ac "github.com/panyam/authcore"
)

// BaseOAuth2 holds what every provider shares: client credentials, the
// endpoint, default scopes and sign-up policy. Providers embed it and add
// a user info lookup.
type BaseOAuth2 struct {
	ProviderID   string
	DisplayName  string
	ClientId     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	Scopes       []string
	// AuthParams are extra query parameters for the authorization URL.
	AuthParams map[string]string

	// HTTPClient is used for token and API calls. Defaults to
	// http.DefaultClient. Can be overridden for testing.
	HTTPClient *http.Client

	// NoSignUp stops this provider from creating users.
	NoSignUp bool
	// SignUpOnRequest creates users only when the sign-in asked for it.
	SignUpOnRequest bool
}

var _ ac.SignUpPolicy = (*BaseOAuth2)(nil)

func (b *BaseOAuth2) ID() string { return b.ProviderID }

func (b *BaseOAuth2) Name() string {
	if b.DisplayName != "" {
		return b.DisplayName
	}
	return b.ProviderID
}

func (b *BaseOAuth2) DisableSignUp() bool        { return b.NoSignUp }
func (b *BaseOAuth2) RequireRequestSignUp() bool { return b.SignUpOnRequest }

// config returns the oauth2 configuration for one flow.
func (b *BaseOAuth2) config(redirectURI string, scopes []string) *oauth2.Config {
	all := slices.Clone(b.Scopes)
	for _, s := range scopes {
		if !slices.Contains(all, s) {
			all = append(all, s)
		}
	}
	return &oauth2.Config{
		ClientID:     b.ClientId,
		ClientSecret: b.ClientSecret,
		Endpoint:     b.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       all,
	}
}

// ExchangeContext returns ctx carrying the HTTP client used by oauth2.
func (b *BaseOAuth2) ExchangeContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.getHTTPClient())
}

// SetHTTPClient sets the client used for token and API calls.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// AuthorizationURL builds the consent URL with an S256 PKCE challenge.
func (b *BaseOAuth2) AuthorizationURL(state, codeVerifier, redirectURI string, scopes []string) (string, error) {
	if b.ClientId == "" {
		return "", fmt.Errorf("%s: client id is not configured", b.ProviderID)
	}
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(codeVerifier)}
	for k, v := range b.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return b.config(redirectURI, scopes).AuthCodeURL(state, opts...), nil
}

// ExchangeCode trades an authorization code for tokens.
func (b *BaseOAuth2) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURI string) (*ac.OAuthTokens, error) {
	tok, err := b.config(redirectURI, nil).Exchange(b.ExchangeContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%s: code exchange: %w", b.ProviderID, err)
	}
	return tokensFrom(tok), nil
}

// RefreshAccessToken redeems a refresh token for a new access token.
func (b *BaseOAuth2) RefreshAccessToken(ctx context.Context, refreshToken string) (*ac.OAuthTokens, error) {
	src := b.config("", nil).TokenSource(b.ExchangeContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: refresh: %w", b.ProviderID, err)
	}
	out := tokensFrom(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// tokensFrom copies an oauth2 token, picking the id token and granted
// scopes out of the raw response.
func tokensFrom(tok *oauth2.Token) *ac.OAuthTokens {
	out := &ac.OAuthTokens{
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		TokenType:            tok.Type(),
		AccessTokenExpiresAt: tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.FieldsFunc(scope, func(r rune) bool { return r == ' ' || r == ',' })
	}
	if secs, ok := tok.Extra("refresh_token_expires_in").(float64); ok && secs > 0 {
		out.RefreshTokenExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	return out
}

// authorizedClient returns an HTTP client sending tokens' access token.
func (b *BaseOAuth2) authorizedClient(ctx context.Context, tokens *ac.OAuthTokens) *http.Client {
	tok := &oauth2.Token{AccessToken: tokens.AccessToken, TokenType: "Bearer"}
	return oauth2.NewClient(b.ExchangeContext(ctx), oauth2.StaticTokenSource(tok))
}
