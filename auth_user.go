package authcore

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

type UpdateUserInput struct {
	Name  *string
	Image *string
	// Additional holds client supplied values of additional user fields.
	Additional Record
}

// UpdateUser changes the caller's profile. Email changes go through
// ChangeEmail.
func (a *Auth) UpdateUser(ctx context.Context, token string, in UpdateUserInput) (*User, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, ok := in.Additional["email"]; ok {
		return nil, NewValidationError(CodeEmailCannotBeUpdated, "email can not be updated, use change email", "email")
	}
	input := in.Additional.Clone()
	if input == nil {
		input = Record{}
	}
	if in.Name != nil {
		input["name"] = *in.Name
	}
	if in.Image != nil {
		input["image"] = *in.Image
	}
	data, err := a.schema.ParseInput(ModelUser, input, ActionUpdate, true)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return sw.User, nil
	}
	return a.internal.UpdateUser(ctx, sw.User.ID, data)
}

// ChangeEmail moves the caller to newEmail. Unverified users may switch
// directly when allowed; everyone else confirms through a link mailed to
// the current address.
func (a *Auth) ChangeEmail(ctx context.Context, token, newEmail, callbackURL string) error {
	if !a.opts.User.ChangeEmail.Enabled {
		return NewValidationError(CodeFeatureDisabled, "change email is disabled", "")
	}
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return err
	}
	if err := validateEmail(newEmail); err != nil {
		return err
	}
	if err := a.checkCallbackURL(callbackURL); err != nil {
		return err
	}
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == sw.User.Email {
		return NewValidationError(CodeEmailIsTheSame, "email is the same", "email")
	}
	if _, err := a.internal.FindUserByEmail(ctx, newEmail); err == nil {
		return NewConflictError(CodeUserAlreadyExists, "a user with this email already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if !sw.User.EmailVerified && a.opts.User.ChangeEmail.UpdateEmailWithoutVerification {
		user, err := a.internal.UpdateUser(ctx, sw.User.ID, Record{"email": newEmail})
		if err != nil {
			return err
		}
		a.sendVerificationEmail(ctx, user, "", callbackURL)
		return nil
	}
	if a.opts.EmailSender == nil {
		return NewValidationError(CodeFeatureDisabled, "email verification is not enabled", "")
	}
	return a.mailVerification(ctx, sw.User, newEmail, callbackURL, a.opts.EmailSender.SendChangeEmailVerification)
}

type DeleteUserInput struct {
	// Password confirms the deletion for users with a credential account.
	Password    string
	CallbackURL string
}

// DeleteUserResult reports whether the user is gone or a confirmation link
// was mailed instead.
type DeleteUserResult struct {
	Deleted          bool
	VerificationSent bool
}

// DeleteUser removes the caller. It requires the password when given, or a
// fresh session otherwise; with SendVerification the deletion waits for
// DeleteUserCallback.
func (a *Auth) DeleteUser(ctx context.Context, token string, in DeleteUserInput) (*DeleteUserResult, error) {
	opts := a.opts.User.DeleteUser
	if !opts.Enabled {
		return nil, NewValidationError(CodeFeatureDisabled, "delete user is disabled", "")
	}
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.checkCallbackURL(in.CallbackURL); err != nil {
		return nil, err
	}
	if in.Password != "" {
		account, err := a.internal.FindCredentialAccount(ctx, sw.User.ID)
		if errors.Is(err, ErrNotFound) || (err == nil && account.Password == "") {
			return nil, NewValidationError(CodeCredentialAccountNotFound, "this user has no password", "password")
		}
		if err != nil {
			return nil, err
		}
		ok, err := a.verifyPassword(in.Password, account.Password)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewAuthError(CodeInvalidPassword, "invalid password")
		}
	}

	if opts.SendVerification {
		if a.opts.EmailSender == nil {
			return nil, NewValidationError(CodeFeatureDisabled, "email verification is not enabled", "")
		}
		token, err := a.issueVerificationToken(ctx, identifierDeleteAccount, sw.User.ID, opts.DeleteTokenExpiresIn)
		if err != nil {
			return nil, err
		}
		query := url.Values{"token": {token}}
		if in.CallbackURL != "" {
			query.Set("callbackURL", in.CallbackURL)
		}
		msg := EmailMessage{User: sw.User, URL: a.endpointURL("/delete-user/callback", query), Token: token}
		if err := a.opts.EmailSender.SendDeleteAccountVerification(ctx, msg); err != nil {
			a.logger.Error("failed to send delete account email", "userId", sw.User.ID, "error", err)
			return nil, err
		}
		return &DeleteUserResult{VerificationSent: true}, nil
	}

	if in.Password == "" && !a.sessions.IsFresh(sw.Session) {
		return nil, NewAuthError(CodeSessionNotFresh, "session is not fresh, sign in again")
	}
	if err := a.deleteUser(ctx, sw.User); err != nil {
		return nil, err
	}
	return &DeleteUserResult{Deleted: true}, nil
}

// DeleteUserCallback redeems a deletion link. When token is given, the
// caller's session must belong to the user that requested it.
func (a *Auth) DeleteUserCallback(ctx context.Context, sessionToken, deleteToken string) error {
	if !a.opts.User.DeleteUser.Enabled {
		return NewValidationError(CodeFeatureDisabled, "delete user is disabled", "")
	}
	v, err := a.consumeVerificationToken(ctx, identifierDeleteAccount, deleteToken)
	if err != nil {
		return err
	}
	if sessionToken != "" {
		sw, err := a.requireSession(ctx, sessionToken)
		if err != nil {
			return err
		}
		if sw.User.ID != v.Value {
			return NewAuthError(CodeInvalidToken, "invalid token")
		}
	}
	user, err := a.internal.FindUserByID(ctx, v.Value)
	if errors.Is(err, ErrNotFound) {
		return NewAuthError(CodeInvalidToken, "the user of this token no longer exists")
	}
	if err != nil {
		return err
	}
	return a.deleteUser(ctx, user)
}

func (a *Auth) deleteUser(ctx context.Context, user *User) error {
	opts := a.opts.User.DeleteUser
	if opts.BeforeDelete != nil {
		if err := opts.BeforeDelete(ctx, user); err != nil {
			return err
		}
	}
	if err := a.internal.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	a.logger.Info("user deleted", "userId", user.ID)
	if opts.AfterDelete != nil {
		opts.AfterDelete(ctx, user)
	}
	return nil
}
