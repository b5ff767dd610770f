package authcore_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/password"
	"github.com/panyam/authcore/stores/memory"
)

const testSecret = "test-secret-0123456789abcdef"

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// testEnv bundles an Auth with the fakes behind it.
type testEnv struct {
	auth  *ac.Auth
	clock *clockwork.FakeClock
	db    *memory.Adapter
	mail  *recordingSender
}

// newTestEnv builds an Auth on the memory adapter with a fake clock and a
// cheap hasher. configure may adjust the options before New.
func newTestEnv(t *testing.T, configure func(*ac.Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clockwork.NewFakeClockAt(testEpoch),
		db:    memory.NewAdapter(),
		mail:  &recordingSender{},
	}
	opts := ac.Options{
		BaseURL:        "http://localhost:3000",
		Secret:         testSecret,
		Database:       env.db,
		EmailSender:    env.mail,
		PasswordHasher: password.NewBcrypt(bcrypt.MinCost),
		Clock:          env.clock,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	opts.RateLimit.Disabled = true
	if configure != nil {
		configure(&opts)
	}
	auth, err := ac.New(opts)
	require.NoError(t, err)
	env.auth = auth
	return env
}

var testMeta = ac.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "authcore-test"}

// signUp registers email with a fixed password and returns the result.
func (e *testEnv) signUp(t *testing.T, email string) *ac.AuthResult {
	t.Helper()
	res, err := e.auth.SignUpEmail(context.Background(), ac.SignUpEmailInput{
		Name:     "Test User",
		Email:    email,
		Password: "password123",
	}, testMeta)
	require.NoError(t, err)
	return res
}

// signIn returns the token of a new session for email.
func (e *testEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	res, err := e.auth.SignInEmail(context.Background(), ac.SignInEmailInput{
		Email:    email,
		Password: "password123",
	}, testMeta)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	return res.Session.Token
}

// sentEmail is one message captured by recordingSender.
type sentEmail struct {
	Kind string
	Msg  ac.EmailMessage
}

// recordingSender captures outgoing email.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (s *recordingSender) record(kind string, msg ac.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{Kind: kind, Msg: msg})
	return nil
}

func (s *recordingSender) SendVerificationEmail(_ context.Context, msg ac.EmailMessage) error {
	return s.record("verify", msg)
}

func (s *recordingSender) SendResetPassword(_ context.Context, msg ac.EmailMessage) error {
	return s.record("reset", msg)
}

func (s *recordingSender) SendChangeEmailVerification(_ context.Context, msg ac.EmailMessage) error {
	return s.record("change-email", msg)
}

func (s *recordingSender) SendDeleteAccountVerification(_ context.Context, msg ac.EmailMessage) error {
	return s.record("delete", msg)
}

// last returns the newest message of kind, failing the test if none.
func (s *recordingSender) last(t *testing.T, kind string) ac.EmailMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Kind == kind {
			return s.sent[i].Msg
		}
	}
	t.Fatalf("no %q email sent", kind)
	return ac.EmailMessage{}
}

func (s *recordingSender) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sent {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// requireCode asserts err is an *ac.Error with the given code.
func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, ac.AsError(err).Code, "error: %v", err)
}
