package grpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// fakeResolver answers GetSession from a fixed token table.
type fakeResolver struct {
	sessions map[string]*ac.SessionWithUser
	err      error
	last     ac.GetSessionInput
}

func (f *fakeResolver) GetSession(_ context.Context, in ac.GetSessionInput) (*ac.SessionResult, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	sw, ok := f.sessions[in.Token]
	if !ok {
		return nil, ac.NewNotFoundError(ac.CodeSessionNotFound, "session not found")
	}
	return &ac.SessionResult{SessionWithUser: sw}, nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{sessions: map[string]*ac.SessionWithUser{
		"good": {Session: &ac.Session{ID: "s1", Token: "good", UserID: "user123"}, User: &ac.User{ID: "user123"}},
	}}
}

func withToken(token string) context.Context {
	md := metadata.Pairs(DefaultMetadataKeyAuthorization, "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected %v code, got %v", want, st.Code())
	}
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig()
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil {
		t.Error("expected Config to be initialized")
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig("/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestOptionalAuthConfig(t *testing.T) {
	if OptionalAuthConfig().RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func TestUnaryAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	interceptor := UnaryAuthInterceptor(newFakeResolver(), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	assertCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_RequireAuth_UnknownToken(t *testing.T) {
	interceptor := UnaryAuthInterceptor(newFakeResolver(), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withToken("stale"), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	assertCode(t, err, codes.Unauthenticated)
}

func TestUnaryAuthInterceptor_RequireAuth_WithSession(t *testing.T) {
	resolver := newFakeResolver()
	interceptor := UnaryAuthInterceptor(resolver, &InterceptorConfig{RequireAuth: true, DisableRefresh: true})
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var gotUser string
	_, err := interceptor(withToken("good"), nil, info, func(ctx context.Context, req any) (any, error) {
		gotUser = UserIDFromContext(ctx)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "user123" {
		t.Errorf("expected user123 in handler context, got %q", gotUser)
	}
	if !resolver.last.DisableRefresh {
		t.Error("expected DisableRefresh to be passed to the resolver")
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := UnaryAuthInterceptor(newFakeResolver(), NewPublicMethodsConfig("/pkg.Svc/Public"))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"}

	handlerCalled := false
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		handlerCalled = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public method: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	interceptor := UnaryAuthInterceptor(newFakeResolver(), OptionalAuthConfig())
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	var authenticated bool
	_, err := interceptor(withToken("stale"), nil, info, func(ctx context.Context, req any) (any, error) {
		authenticated = IsAuthenticated(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authenticated {
		t.Error("expected no session for a stale token")
	}
}

func TestUnaryAuthInterceptor_StorageFailure(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = errors.New("connection refused")
	interceptor := UnaryAuthInterceptor(resolver, OptionalAuthConfig())
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(withToken("good"), nil, info, func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called")
		return nil, nil
	})
	assertCode(t, err, codes.Internal)
}

type mockServerStream struct {
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context     { return m.ctx }
func (m *mockServerStream) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream) SetTrailer(metadata.MD)       {}
func (m *mockServerStream) SendMsg(any) error            { return nil }
func (m *mockServerStream) RecvMsg(any) error            { return nil }

func TestStreamAuthInterceptor_RequireAuth_NoToken(t *testing.T) {
	interceptor := StreamAuthInterceptor(newFakeResolver(), nil)
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	assertCode(t, err, codes.Unauthenticated)
}

func TestStreamAuthInterceptor_RequireAuth_WithSession(t *testing.T) {
	interceptor := StreamAuthInterceptor(newFakeResolver(), nil)
	stream := &mockServerStream{ctx: withToken("good")}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	var sw *ac.SessionWithUser
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		sw = SessionFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sw == nil || sw.Session.ID != "s1" {
		t.Errorf("expected session s1 on the stream context, got %+v", sw)
	}
}

func TestStreamAuthInterceptor_PublicMethod(t *testing.T) {
	interceptor := StreamAuthInterceptor(newFakeResolver(), NewPublicMethodsConfig("/pkg.Svc/PublicStream"))
	stream := &mockServerStream{ctx: context.Background()}
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/PublicStream"}

	handlerCalled := false
	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error for public stream: %v", err)
	}
	if !handlerCalled {
		t.Error("handler should have been called for public stream")
	}
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{ac.NewValidationError(ac.CodeInvalidEmail, "bad", "email"), codes.InvalidArgument},
		{ac.NewNotFoundError(ac.CodeUserNotFound, "gone"), codes.NotFound},
		{ac.NewAuthError(ac.CodeInvalidEmailOrPassword, "no"), codes.Unauthenticated},
		{ac.NewAuthError(ac.CodeEmailNotVerified, "verify"), codes.PermissionDenied},
		{ac.NewConflictError(ac.CodeUserAlreadyExists, "dup"), codes.AlreadyExists},
		{ac.NewRateLimitedError(0), codes.ResourceExhausted},
		{ac.NewUpstreamError(ac.CodeOAuthProviderError, "down", nil), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assertCode(t, ToStatus(tc.err), tc.want)
	}
	if ToStatus(nil) != nil {
		t.Error("expected nil status for nil error")
	}
}
