package authcore_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ac "github.com/panyam/authcore"
)

func TestSignUpEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res := env.signUp(t, "  Alice@Example.COM ")
	require.NotNil(t, res.Session)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.False(t, res.User.EmailVerified)
	assert.Equal(t, res.User.ID, res.Session.UserID)
	assert.WithinDuration(t, testEpoch.Add(ac.DefaultSessionExpiresIn), res.Session.ExpiresAt, time.Second)
	assert.Equal(t, testMeta.IPAddress, res.Session.IPAddress)

	account, err := env.auth.Internal().FindCredentialAccount(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, account.AccountID)
	assert.NotEqual(t, "password123", account.Password)
}

func TestSignUpEmail_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signUp(t, "taken@example.com")

	tests := []struct {
		name  string
		input ac.SignUpEmailInput
		code  string
		field string
	}{
		{
			name:  "invalid email",
			input: ac.SignUpEmailInput{Name: "x", Email: "not-an-email", Password: "password123"},
			code:  ac.CodeInvalidEmail,
			field: "email",
		},
		{
			name:  "short password",
			input: ac.SignUpEmailInput{Name: "x", Email: "x@example.com", Password: "short"},
			code:  ac.CodePasswordTooShort,
			field: "password",
		},
		{
			name:  "long password",
			input: ac.SignUpEmailInput{Name: "x", Email: "y@example.com", Password: strings.Repeat("p", ac.DefaultMaxPasswordLength+1)},
			code:  ac.CodePasswordTooLong,
			field: "password",
		},
		{
			name:  "untrusted callback",
			input: ac.SignUpEmailInput{Name: "x", Email: "z@example.com", Password: "password123", CallbackURL: "https://evil.example/cb"},
			code:  ac.CodeInvalidCallbackURL,
			field: "callbackURL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.SignUpEmail(context.Background(), tt.input, testMeta)
			requireCode(t, err, tt.code)
			assert.ErrorIs(t, err, ac.ErrValidation)
			assert.Equal(t, tt.field, ac.AsError(err).Field)
		})
	}

	t.Run("duplicate email", func(t *testing.T) {
		_, err := env.auth.SignUpEmail(context.Background(), ac.SignUpEmailInput{
			Name: "Again", Email: "TAKEN@example.com", Password: "password123",
		}, testMeta)
		requireCode(t, err, ac.CodeUserAlreadyExists)
		assert.ErrorIs(t, err, ac.ErrConflict)
	})
}

func TestSignUpEmail_CompletesPartialSignUp(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A user without any account, as left behind by an interrupted sign-up.
	orphan, err := env.auth.Internal().CreateUser(ctx, ac.Record{"name": "Half", "email": "half@example.com"})
	require.NoError(t, err)

	res := env.signUp(t, "half@example.com")
	assert.Equal(t, orphan.ID, res.User.ID)
	_, err = env.auth.Internal().FindCredentialAccount(ctx, orphan.ID)
	assert.NoError(t, err)

	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv)
	}{
		{"verified user", func(t *testing.T, env *testEnv) {
			_, err := env.auth.Internal().CreateUser(ctx, ac.Record{"name": "V", "email": "taken@example.com", "emailVerified": true})
			require.NoError(t, err)
		}},
		{"old user", func(t *testing.T, env *testEnv) {
			_, err := env.auth.Internal().CreateUser(ctx, ac.Record{"name": "Old", "email": "taken@example.com"})
			require.NoError(t, err)
			env.clock.Advance(time.Hour)
		}},
		{"user with a session", func(t *testing.T, env *testEnv) {
			user, err := env.auth.Internal().CreateUser(ctx, ac.Record{"name": "S", "email": "taken@example.com"})
			require.NoError(t, err)
			_, err = env.auth.Sessions().Create(ctx, user.ID, testMeta, false)
			require.NoError(t, err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			tt.setup(t, env)
			_, err := env.auth.SignUpEmail(ctx, ac.SignUpEmailInput{
				Name: "Intruder", Email: "taken@example.com", Password: "password123",
			}, testMeta)
			requireCode(t, err, ac.CodeUserAlreadyExists)
		})
	}
}

func TestSignUpEmail_Disabled(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) { o.EmailAndPassword.DisableSignUp = true })
	_, err := env.auth.SignUpEmail(context.Background(), ac.SignUpEmailInput{
		Name: "x", Email: "x@example.com", Password: "password123",
	}, testMeta)
	requireCode(t, err, ac.CodeSignUpDisabled)
}

func TestSignUpEmail_AdditionalFields(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) {
		o.Schema.AdditionalFields = map[string][]ac.Field{
			ac.ModelUser: {
				{Name: "plan", Type: ac.FieldString, DefaultValue: "free"},
				{Name: "role", Type: ac.FieldString, DisableInput: true, DefaultValue: "member"},
			},
		}
	})
	res, err := env.auth.SignUpEmail(context.Background(), ac.SignUpEmailInput{
		Name:       "Pro",
		Email:      "pro@example.com",
		Password:   "password123",
		Additional: ac.Record{"plan": "pro", "role": "admin"},
	}, testMeta)
	require.NoError(t, err)
	assert.Equal(t, "pro", res.User.Additional["plan"])
	assert.Equal(t, "member", res.User.Additional["role"], "clients can not set input disabled fields")
}

func TestSignInEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signUp(t, "bob@example.com")

	res, err := env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "BOB@example.com", Password: "password123"}, testMeta)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "bob@example.com", res.User.Email)
	assert.False(t, res.DontRememberMe)

	t.Run("wrong password and unknown email fail alike", func(t *testing.T) {
		_, wrong := env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "bob@example.com", Password: "nope-nope"}, testMeta)
		_, unknown := env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "nobody@example.com", Password: "password123"}, testMeta)
		requireCode(t, wrong, ac.CodeInvalidEmailOrPassword)
		requireCode(t, unknown, ac.CodeInvalidEmailOrPassword)
		assert.Equal(t, wrong.Error(), unknown.Error())
		assert.ErrorIs(t, wrong, ac.ErrAuth)
	})

	t.Run("dont remember me", func(t *testing.T) {
		no := false
		res, err := env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "bob@example.com", Password: "password123", RememberMe: &no}, testMeta)
		require.NoError(t, err)
		assert.True(t, res.DontRememberMe)
		assert.WithinDuration(t, testEpoch.Add(ac.DontRememberMeExpiresIn), res.Session.ExpiresAt, time.Second)
	})
}

func TestSignInEmail_SocialOnlyUser(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, _, err := env.auth.Internal().CreateOAuthUser(ctx,
		ac.Record{"name": "Social", "email": "social@example.com"},
		ac.Record{"providerId": "github", "accountId": "42"})
	require.NoError(t, err)

	_, err = env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "social@example.com", Password: "password123"}, testMeta)
	requireCode(t, err, ac.CodeInvalidEmailOrPassword)
}

func TestEmailVerification_Required(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) {
		o.EmailAndPassword.RequireEmailVerification = true
		o.EmailVerification.SendOnSignIn = true
	})
	ctx := context.Background()

	res := env.signUp(t, "carol@example.com")
	assert.Nil(t, res.Session, "no session before verification")
	assert.Equal(t, 1, env.mail.count("verify"))

	_, err := env.auth.SignInEmail(ctx, ac.SignInEmailInput{Email: "carol@example.com", Password: "password123"}, testMeta)
	requireCode(t, err, ac.CodeEmailNotVerified)
	assert.Equal(t, 403, ac.AsError(err).HTTPStatus())
	assert.Equal(t, 2, env.mail.count("verify"), "sign-in resends the link")

	msg := env.mail.last(t, "verify")
	assert.Contains(t, msg.URL, "http://localhost:3000/api/auth/verify-email?token=")
	verified, err := env.auth.VerifyEmail(ctx, msg.Token, testMeta)
	require.NoError(t, err)
	assert.True(t, verified.User.EmailVerified)
	assert.Nil(t, verified.Session)

	_, err = env.auth.VerifyEmail(ctx, msg.Token, testMeta)
	requireCode(t, err, ac.CodeInvalidToken)

	env.signIn(t, "carol@example.com")
}

func TestVerifyEmail_AutoSignIn(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) {
		o.EmailVerification.SendOnSignUp = true
		o.EmailVerification.AutoSignInAfterVerification = true
	})
	env.signUp(t, "dan@example.com")

	res, err := env.auth.VerifyEmail(context.Background(), env.mail.last(t, "verify").Token, testMeta)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.True(t, res.User.EmailVerified)
}

func TestVerifyEmail_Expired(t *testing.T) {
	env := newTestEnv(t, func(o *ac.Options) { o.EmailVerification.SendOnSignUp = true })
	env.signUp(t, "erin@example.com")
	token := env.mail.last(t, "verify").Token

	env.clock.Advance(ac.DefaultVerificationExpiresIn + time.Second)
	_, err := env.auth.VerifyEmail(context.Background(), token, testMeta)
	requireCode(t, err, ac.CodeInvalidToken)
}

func TestSendVerificationEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.signUp(t, "fay@example.com")

	require.NoError(t, env.auth.SendVerificationEmail(ctx, "fay@example.com", "/welcome"))
	msg := env.mail.last(t, "verify")
	assert.Contains(t, msg.URL, "callbackURL=%2Fwelcome")

	// Unknown addresses are accepted without sending anything.
	require.NoError(t, env.auth.SendVerificationEmail(ctx, "ghost@example.com", ""))
	assert.Equal(t, 1, env.mail.count("verify"))

	_, err := env.auth.VerifyEmail(ctx, msg.Token, testMeta)
	require.NoError(t, err)
	err = env.auth.SendVerificationEmail(ctx, "fay@example.com", "")
	requireCode(t, err, ac.CodeEmailAlreadyVerified)
}
