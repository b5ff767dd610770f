// Package grpc carries authcore sessions into gRPC services. Clients send
// the session token as metadata; server interceptors resolve it and store
// the session in the handler's context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ac "github.com/panyam/authcore"
)

// Default metadata keys for authentication context.
// These can be customized via Config if needed.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <session token>".
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeySessionToken carries the bare session token.
	DefaultMetadataKeySessionToken = "x-session-token"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeyAuthorization is checked first for a bearer token.
	// Defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeySessionToken is checked when no bearer token is present.
	// Defaults to "x-session-token".
	MetadataKeySessionToken string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeySessionToken:  DefaultMetadataKeySessionToken,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeySessionToken == "" {
		c.MetadataKeySessionToken = DefaultMetadataKeySessionToken
	}
}

// TokenFromContext extracts the session token from incoming metadata.
// Returns empty string if the caller sent none.
func TokenFromContext(ctx context.Context) string {
	return TokenFromContextWithConfig(ctx, nil)
}

// TokenFromContextWithConfig extracts the session token using the specified config.
func TokenFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(config.MetadataKeyAuthorization) {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	if values := md.Get(config.MetadataKeySessionToken); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// TokenToOutgoingContext adds the session token as a bearer authorization
// to outgoing gRPC context metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// TokenToOutgoingContextWithKey adds the bare token under a custom key.
func TokenToOutgoingContextWithKey(ctx context.Context, token string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, token)
}

// UserIDFromContext returns the id of the user the interceptor resolved.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	return ac.UserIDFromContext(ctx)
}

// SessionFromContext returns the session the interceptor resolved, or nil.
func SessionFromContext(ctx context.Context) *ac.SessionWithUser {
	return ac.SessionFromContext(ctx)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}
