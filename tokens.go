package authcore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// CredentialProviderID is the provider id of email and password accounts.
const CredentialProviderID = "credential"

// Verification identifier prefixes. The random token follows the prefix.
const (
	identifierEmailVerification = "email-verification:"
	identifierResetPassword     = "reset-password:"
	identifierDeleteAccount     = "delete-account:"
	identifierOAuthState        = "oauth-state:"
)

// GenerateSecureToken returns n random bytes encoded as unpadded base64url.
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// issueVerificationToken stores a single use token under prefix and
// returns the token.
func (a *Auth) issueVerificationToken(ctx context.Context, prefix, value string, ttl time.Duration) (string, error) {
	token, err := GenerateSecureToken(24)
	if err != nil {
		return "", internalError("failed to generate token", err)
	}
	if _, err := a.internal.CreateVerification(ctx, prefix+token, value, a.clock.Now().Add(ttl)); err != nil {
		return "", err
	}
	return token, nil
}

// consumeVerificationToken redeems a token issued under prefix. Unknown,
// used and expired tokens all fail with an invalid_token auth error.
func (a *Auth) consumeVerificationToken(ctx context.Context, prefix, token string) (*Verification, error) {
	if token == "" {
		return nil, NewAuthError(CodeInvalidToken, "invalid token")
	}
	v, err := a.internal.ConsumeVerification(ctx, prefix+token)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(CodeInvalidToken, "invalid or expired token")
	}
	return v, err
}
