package authcore

import (
	"context"
	"errors"
	"net/url"
)

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	// RevokeOtherSessions signs out every other device and rotates the
	// current session.
	RevokeOtherSessions bool
}

// ChangePassword replaces the caller's password. It needs a fresh session
// and the current password. When other sessions are revoked the result
// carries the replacement session.
func (a *Auth) ChangePassword(ctx context.Context, token string, in ChangePasswordInput, meta RequestMeta) (*AuthResult, error) {
	sw, err := a.requireFreshSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.checkPassword(in.NewPassword, "newPassword"); err != nil {
		return nil, err
	}
	account, err := a.internal.FindCredentialAccount(ctx, sw.User.ID)
	if errors.Is(err, ErrNotFound) || (err == nil && account.Password == "") {
		return nil, NewValidationError(CodeCredentialAccountNotFound, "this user has no password, use set password instead", "")
	}
	if err != nil {
		return nil, err
	}
	ok, err := a.verifyPassword(in.CurrentPassword, account.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewAuthError(CodeInvalidPassword, "invalid password")
	}
	hash, err := a.hashPassword(in.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := a.internal.UpdatePassword(ctx, sw.User.ID, hash); err != nil {
		return nil, err
	}
	if !in.RevokeOtherSessions {
		return &AuthResult{User: sw.User, Session: sw.Session}, nil
	}
	if err := a.sessions.RevokeAll(ctx, sw.User.ID); err != nil {
		return nil, err
	}
	session, err := a.sessions.Create(ctx, sw.User.ID, meta, false)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: sw.User, Session: session}, nil
}

// SetPassword adds a password to a user that signed up through a provider.
// It is meant for server side use and fails when a password already exists.
func (a *Auth) SetPassword(ctx context.Context, token, newPassword string) error {
	sw, err := a.requireFreshSession(ctx, token)
	if err != nil {
		return err
	}
	if err := a.checkPassword(newPassword, "newPassword"); err != nil {
		return err
	}
	account, err := a.internal.FindCredentialAccount(ctx, sw.User.ID)
	switch {
	case err == nil && account.Password != "":
		return NewValidationError(CodePasswordAlreadySet, "a password is already set", "")
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if account != nil {
		_, err = a.internal.UpdateAccount(ctx, account.ID, Record{"password": hash})
		return err
	}
	_, err = a.internal.CreateAccount(ctx, Record{
		"userId":     sw.User.ID,
		"providerId": CredentialProviderID,
		"accountId":  sw.User.ID,
		"password":   hash,
	})
	return err
}

// RequestPasswordReset mails a reset link. Unknown emails succeed silently.
// redirectTo is where the link lands with the token appended.
func (a *Auth) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	if a.opts.EmailSender == nil {
		return NewValidationError(CodeFeatureDisabled, "password reset is not enabled", "")
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := a.checkCallbackURL(redirectTo); err != nil {
		return err
	}
	user, err := a.internal.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		a.logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token, err := a.issueVerificationToken(ctx, identifierResetPassword, user.ID, a.opts.EmailAndPassword.ResetPasswordTokenExpiresIn)
	if err != nil {
		return err
	}
	query := url.Values{}
	if redirectTo != "" {
		query.Set("callbackURL", redirectTo)
	}
	link := a.endpointURL("/reset-password/"+token, query)
	if err := a.opts.EmailSender.SendResetPassword(ctx, EmailMessage{User: user, URL: link, Token: token}); err != nil {
		a.logger.Error("failed to send password reset email", "userId", user.ID, "error", err)
		return err
	}
	return nil
}

// ResetPassword redeems a reset token and sets newPassword. A user without
// a credential account gets one.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := a.checkPassword(newPassword, "newPassword"); err != nil {
		return err
	}
	v, err := a.consumeVerificationToken(ctx, identifierResetPassword, resetToken)
	if err != nil {
		return err
	}
	userID := v.Value
	hash, err := a.hashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = a.internal.FindCredentialAccount(ctx, userID)
	switch {
	case err == nil:
		if err := a.internal.UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
	case errors.Is(err, ErrNotFound):
		if _, err := a.internal.CreateAccount(ctx, Record{
			"userId":     userID,
			"providerId": CredentialProviderID,
			"accountId":  userID,
			"password":   hash,
		}); err != nil {
			return err
		}
	default:
		return err
	}
	if a.opts.EmailAndPassword.RevokeSessionsOnPasswordReset {
		return a.sessions.RevokeAll(ctx, userID)
	}
	return nil
}
