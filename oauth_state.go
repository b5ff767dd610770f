package authcore

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// linkIntent marks an OAuth attempt that attaches an account to a signed in
// user instead of signing in.
type linkIntent struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// oauthState travels through the provider as the state parameter. The
// nonce names a single use verification record holding the PKCE verifier.
type oauthState struct {
	Nonce              string      `json:"nonce"`
	ProviderID         string      `json:"providerId"`
	CallbackURL        string      `json:"callbackURL,omitempty"`
	ErrorCallbackURL   string      `json:"errorCallbackURL,omitempty"`
	NewUserCallbackURL string      `json:"newUserCallbackURL,omitempty"`
	RequestSignUp      bool        `json:"requestSignUp,omitempty"`
	Link               *linkIntent `json:"link,omitempty"`
	jwt.RegisteredClaims
}

// startOAuth records a nonce and PKCE verifier and returns the provider's
// authorization URL with the signed state.
func (a *Auth) startOAuth(ctx context.Context, p Provider, state oauthState, scopes []string) (*SocialRedirect, error) {
	nonce, err := GenerateSecureToken(24)
	if err != nil {
		return nil, internalError("failed to generate state", err)
	}
	verifier := oauth2.GenerateVerifier()
	now := a.clock.Now()
	expiresAt := now.Add(DefaultOAuthStateExpiresIn)
	if _, err := a.internal.CreateVerification(ctx, identifierOAuthState+nonce, verifier, expiresAt); err != nil {
		return nil, err
	}
	state.Nonce = nonce
	state.ProviderID = p.ID()
	state.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, state).SignedString(a.secret)
	if err != nil {
		return nil, internalError("failed to sign state", err)
	}
	authURL, err := p.AuthorizationURL(signed, verifier, a.redirectURI(p.ID()), scopes)
	if err != nil {
		return nil, NewUpstreamError(CodeOAuthProviderError, "failed to build authorization URL", err)
	}
	return &SocialRedirect{URL: authURL, State: signed}, nil
}

// redeemState verifies the state parameter and consumes its nonce, returning
// the state and the PKCE verifier. Tampered, expired and replayed states
// fail with invalid_state.
func (a *Auth) redeemState(ctx context.Context, providerID, raw string) (*oauthState, string, error) {
	invalid := NewAuthError(CodeInvalidState, "invalid or expired state")
	if raw == "" {
		return nil, "", invalid
	}
	var state oauthState
	_, err := jwt.ParseWithClaims(raw, &state, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		a.logger.Warn("rejected oauth state", "provider", providerID, "error", err)
		return nil, "", invalid
	}
	if state.ProviderID != providerID || state.Nonce == "" {
		return nil, "", invalid
	}
	v, err := a.internal.ConsumeVerification(ctx, identifierOAuthState+state.Nonce)
	if errors.Is(err, ErrNotFound) {
		return nil, "", invalid
	}
	if err != nil {
		return nil, "", err
	}
	return &state, v.Value, nil
}
