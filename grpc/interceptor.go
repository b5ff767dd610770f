package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// SessionResolver looks up sessions by token. *authcore.Auth implements it.
type SessionResolver interface {
	GetSession(ctx context.Context, in ac.GetSessionInput) (*ac.SessionResult, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but SessionFromContext returns nil.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// DisableRefresh stops lookups from extending session expiry.
	DisableRefresh bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig() *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) normalize() *InterceptorConfig {
	if c == nil {
		c = DefaultInterceptorConfig()
	}
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	return c
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// caller's session and stores it in the handler context.
func UnaryAuthInterceptor(resolver SessionResolver, config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.normalize()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, resolver, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves the
// caller's session.
func StreamAuthInterceptor(resolver SessionResolver, config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.normalize()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), resolver, config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }

// authenticate resolves the token in ctx. Unknown or expired tokens count
// as unauthenticated; storage failures surface as Internal.
func authenticate(ctx context.Context, resolver SessionResolver, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]
	token := TokenFromContextWithConfig(ctx, config.Config)
	if token == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	res, err := resolver.GetSession(ctx, ac.GetSessionInput{Token: token, DisableRefresh: config.DisableRefresh})
	if err != nil && !errors.Is(err, ac.ErrNotFound) && !errors.Is(err, ac.ErrAuth) {
		return nil, ToStatus(err)
	}
	if err != nil || res == nil || res.SessionWithUser == nil {
		if required {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired session")
		}
		return ctx, nil
	}
	return ac.ContextWithSession(ctx, res.SessionWithUser), nil
}

// ToStatus converts an authcore error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	e := ac.AsError(err)
	var code codes.Code
	switch e.Kind {
	case ac.KindValidation:
		code = codes.InvalidArgument
	case ac.KindNotFound:
		code = codes.NotFound
	case ac.KindAuth:
		code = codes.Unauthenticated
		if e.Code == ac.CodeEmailNotVerified {
			code = codes.PermissionDenied
		}
	case ac.KindConflict:
		code = codes.AlreadyExists
	case ac.KindRateLimited:
		code = codes.ResourceExhausted
	case ac.KindUpstream:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Error())
}
