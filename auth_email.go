package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"
)

// partialSignUpWindow bounds how long after its creation an account-less
// user may be completed by a repeated email sign-up.
const partialSignUpWindow = 10 * time.Minute

// AuthResult is returned by operations that may start a session. Session
// is nil when no session was created, e.g. while email verification is
// pending.
type AuthResult struct {
	User    *User
	Session *Session
	// DontRememberMe is set for sessions that should not outlive the
	// browser session.
	DontRememberMe bool
}

// SessionWithUser returns the result as a SessionWithUser, or nil when no
// session was created.
func (r *AuthResult) SessionWithUser() *SessionWithUser {
	if r == nil || r.Session == nil {
		return nil
	}
	return &SessionWithUser{Session: r.Session, User: r.User}
}

type SignUpEmailInput struct {
	Name     string
	Email    string
	Password string
	Image    string
	// RememberMe defaults to true.
	RememberMe  *bool
	CallbackURL string
	// Additional holds client supplied values of additional user fields.
	Additional Record
}

type SignInEmailInput struct {
	Email       string
	Password    string
	RememberMe  *bool
	CallbackURL string
}

// SignUpEmail registers a user with email and password. Retrying a sign-up
// that failed after the user was created completes the missing credential
// account instead of reporting a duplicate. Any other existing user,
// including one that unlinked all of its accounts, is a conflict.
func (a *Auth) SignUpEmail(ctx context.Context, in SignUpEmailInput, meta RequestMeta) (*AuthResult, error) {
	if a.opts.EmailAndPassword.Disabled {
		return nil, NewValidationError(CodeEmailPasswordDisabled, "email and password sign-up is disabled", "")
	}
	if a.opts.EmailAndPassword.DisableSignUp {
		return nil, NewValidationError(CodeSignUpDisabled, "sign-up is disabled", "")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := a.checkPassword(in.Password, "password"); err != nil {
		return nil, err
	}
	if err := a.checkCallbackURL(in.CallbackURL); err != nil {
		return nil, err
	}

	user, accounts, err := a.internal.FindUserWithAccounts(ctx, in.Email)
	switch {
	case err == nil && len(accounts) > 0:
		return nil, NewConflictError(CodeUserAlreadyExists, "a user with this email already exists")
	case err == nil:
		partial, err := a.isPartialSignUp(ctx, user)
		if err != nil {
			return nil, err
		}
		if !partial {
			return nil, NewConflictError(CodeUserAlreadyExists, "a user with this email already exists")
		}
		a.logger.Info("completing partial sign-up", "userId", user.ID)
	case errors.Is(err, ErrNotFound):
		input := in.Additional.Clone()
		if input == nil {
			input = Record{}
		}
		input["name"] = in.Name
		input["email"] = in.Email
		if in.Image != "" {
			input["image"] = in.Image
		}
		data, err := a.schema.ParseInput(ModelUser, input, ActionCreate, true)
		if err != nil {
			return nil, err
		}
		if user, err = a.internal.CreateUser(ctx, data); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	hash, err := a.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	if _, err := a.internal.CreateAccount(ctx, Record{
		"userId":     user.ID,
		"providerId": CredentialProviderID,
		"accountId":  user.ID,
		"password":   hash,
	}); err != nil {
		a.logger.Error("failed to create credential account", "userId", user.ID, "error", err)
		return nil, err
	}
	a.metrics.signUp.Inc()

	opts := a.opts.EmailAndPassword
	if opts.RequireEmailVerification || a.opts.EmailVerification.SendOnSignUp {
		a.sendVerificationEmail(ctx, user, "", in.CallbackURL)
	}
	if opts.RequireEmailVerification || opts.DisableAutoSignIn {
		return &AuthResult{User: user}, nil
	}
	dontRemember := in.RememberMe != nil && !*in.RememberMe
	session, err := a.sessions.Create(ctx, user.ID, meta, dontRemember)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session, DontRememberMe: dontRemember}, nil
}

// isPartialSignUp reports whether an account-less user is the remainder of
// an interrupted email sign-up: unverified, recent and never signed in.
func (a *Auth) isPartialSignUp(ctx context.Context, user *User) (bool, error) {
	if user.EmailVerified || a.clock.Since(user.CreatedAt) > partialSignUpWindow {
		return false, nil
	}
	sessions, err := a.internal.ListSessions(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return len(sessions) == 0, nil
}

// SignInEmail authenticates with email and password. Unknown emails and
// wrong passwords fail identically.
func (a *Auth) SignInEmail(ctx context.Context, in SignInEmailInput, meta RequestMeta) (*AuthResult, error) {
	if a.opts.EmailAndPassword.Disabled {
		return nil, NewValidationError(CodeEmailPasswordDisabled, "email and password sign-in is disabled", "")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	invalid := NewAuthError(CodeInvalidEmailOrPassword, "invalid email or password")
	user, err := a.internal.FindUserByEmail(ctx, in.Email)
	if errors.Is(err, ErrNotFound) {
		// Spend the same time as a real check.
		_, _ = a.hasher.Hash(in.Password)
		a.metrics.signIn.WithLabelValues("email", "invalid").Inc()
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	account, err := a.internal.FindCredentialAccount(ctx, user.ID)
	if errors.Is(err, ErrNotFound) || (err == nil && account.Password == "") {
		_, _ = a.hasher.Hash(in.Password)
		a.metrics.signIn.WithLabelValues("email", "invalid").Inc()
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	ok, err := a.verifyPassword(in.Password, account.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.metrics.signIn.WithLabelValues("email", "invalid").Inc()
		return nil, invalid
	}
	if a.opts.EmailAndPassword.RequireEmailVerification && !user.EmailVerified {
		if a.opts.EmailVerification.SendOnSignIn {
			a.sendVerificationEmail(ctx, user, "", in.CallbackURL)
		}
		return nil, NewAuthError(CodeEmailNotVerified, "email is not verified")
	}
	dontRemember := in.RememberMe != nil && !*in.RememberMe
	session, err := a.sessions.Create(ctx, user.ID, meta, dontRemember)
	if err != nil {
		return nil, err
	}
	a.metrics.signIn.WithLabelValues("email", "success").Inc()
	return &AuthResult{User: user, Session: session, DontRememberMe: dontRemember}, nil
}

// emailVerificationPayload is stored as the value of email verification
// records.
type emailVerificationPayload struct {
	Email    string `json:"email"`
	UpdateTo string `json:"updateTo,omitempty"`
}

// sendVerificationEmail issues a verification token for user and mails it.
// Failures are logged; the caller's operation stands.
func (a *Auth) sendVerificationEmail(ctx context.Context, user *User, updateTo, callbackURL string) {
	if a.opts.EmailSender == nil {
		a.logger.Warn("email verification requested but no email sender is configured")
		return
	}
	if err := a.mailVerification(ctx, user, updateTo, callbackURL, a.opts.EmailSender.SendVerificationEmail); err != nil {
		a.logger.Error("failed to send verification email", "userId", user.ID, "error", err)
	}
}

func (a *Auth) mailVerification(ctx context.Context, user *User, updateTo, callbackURL string, send func(context.Context, EmailMessage) error) error {
	payload, _ := json.Marshal(emailVerificationPayload{Email: user.Email, UpdateTo: updateTo})
	token, err := a.issueVerificationToken(ctx, identifierEmailVerification, string(payload), a.opts.EmailVerification.ExpiresIn)
	if err != nil {
		return err
	}
	query := url.Values{"token": {token}}
	if callbackURL != "" {
		query.Set("callbackURL", callbackURL)
	}
	return send(ctx, EmailMessage{User: user, URL: a.endpointURL("/verify-email", query), Token: token, NewEmail: updateTo})
}

// SendVerificationEmail mails a new verification link. Unknown emails are
// accepted silently so that callers cannot enumerate accounts.
func (a *Auth) SendVerificationEmail(ctx context.Context, email, callbackURL string) error {
	if a.opts.EmailSender == nil {
		return NewValidationError(CodeFeatureDisabled, "email verification is not enabled", "")
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := a.checkCallbackURL(callbackURL); err != nil {
		return err
	}
	user, err := a.internal.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return NewValidationError(CodeEmailAlreadyVerified, "email is already verified", "email")
	}
	return a.mailVerification(ctx, user, "", callbackURL, a.opts.EmailSender.SendVerificationEmail)
}

// VerifyEmail redeems a verification token. A plain verification marks the
// email verified; a change-email confirmation moves the user to the new
// address, which then needs its own verification.
func (a *Auth) VerifyEmail(ctx context.Context, token string, meta RequestMeta) (*AuthResult, error) {
	v, err := a.consumeVerificationToken(ctx, identifierEmailVerification, token)
	if err != nil {
		return nil, err
	}
	var payload emailVerificationPayload
	if err := json.Unmarshal([]byte(v.Value), &payload); err != nil {
		return nil, NewAuthError(CodeInvalidToken, "invalid token")
	}
	user, err := a.internal.FindUserByEmail(ctx, payload.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(CodeInvalidToken, "the user of this token no longer exists")
	}
	if err != nil {
		return nil, err
	}

	if payload.UpdateTo != "" {
		if _, err := a.internal.FindUserByEmail(ctx, payload.UpdateTo); err == nil {
			return nil, NewConflictError(CodeUserAlreadyExists, "a user with this email already exists")
		}
		user, err = a.internal.UpdateUser(ctx, user.ID, Record{"email": payload.UpdateTo, "emailVerified": false})
		if err != nil {
			return nil, err
		}
		a.sendVerificationEmail(ctx, user, "", "")
		return &AuthResult{User: user}, nil
	}

	if !user.EmailVerified {
		if user, err = a.internal.UpdateUser(ctx, user.ID, Record{"emailVerified": true}); err != nil {
			return nil, err
		}
	}
	if !a.opts.EmailVerification.AutoSignInAfterVerification {
		return &AuthResult{User: user}, nil
	}
	session, err := a.sessions.Create(ctx, user.ID, meta, false)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Session: session}, nil
}
