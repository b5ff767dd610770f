package authcore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

type SignInSocialInput struct {
	Provider           string
	CallbackURL        string
	ErrorCallbackURL   string
	NewUserCallbackURL string
	// RequestSignUp allows creating a user for providers that only sign
	// up on explicit request.
	RequestSignUp bool
	Scopes        []string
}

// SocialRedirect is where to send the user agent to start an OAuth flow.
type SocialRedirect struct {
	URL   string
	State string
}

// SignInSocial starts an OAuth sign-in.
func (a *Auth) SignInSocial(ctx context.Context, in SignInSocialInput) (*SocialRedirect, error) {
	p, err := a.provider(in.Provider)
	if err != nil {
		return nil, err
	}
	for _, u := range []string{in.CallbackURL, in.ErrorCallbackURL, in.NewUserCallbackURL} {
		if err := a.checkCallbackURL(u); err != nil {
			return nil, err
		}
	}
	return a.startOAuth(ctx, p, oauthState{
		CallbackURL:        in.CallbackURL,
		ErrorCallbackURL:   in.ErrorCallbackURL,
		NewUserCallbackURL: in.NewUserCallbackURL,
		RequestSignUp:      in.RequestSignUp,
	}, in.Scopes)
}

type LinkSocialInput struct {
	Provider         string
	CallbackURL      string
	ErrorCallbackURL string
	Scopes           []string
}

// LinkSocial starts an OAuth flow that attaches the provider account to the
// caller.
func (a *Auth) LinkSocial(ctx context.Context, token string, in LinkSocialInput) (*SocialRedirect, error) {
	if a.opts.Account.AccountLinking.Disabled {
		return nil, NewValidationError(CodeAccountLinkingDisabled, "account linking is disabled", "")
	}
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	p, err := a.provider(in.Provider)
	if err != nil {
		return nil, err
	}
	for _, u := range []string{in.CallbackURL, in.ErrorCallbackURL} {
		if err := a.checkCallbackURL(u); err != nil {
			return nil, err
		}
	}
	return a.startOAuth(ctx, p, oauthState{
		CallbackURL:      in.CallbackURL,
		ErrorCallbackURL: in.ErrorCallbackURL,
		Link:             &linkIntent{UserID: sw.User.ID, Email: sw.User.Email},
	}, in.Scopes)
}

// CallbackInput holds the query parameters of a provider redirect.
type CallbackInput struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult says where to send the user agent after a callback.
// Session is set when the callback signed the user in.
type CallbackResult struct {
	RedirectURL string
	Session     *SessionWithUser
	IsNewUser   bool
}

// HandleOAuthCallback completes an OAuth flow. The state is verified and
// its nonce consumed before the provider is contacted. On failure the
// result still carries an error redirect along with the error.
func (a *Auth) HandleOAuthCallback(ctx context.Context, providerID string, in CallbackInput, meta RequestMeta) (*CallbackResult, error) {
	fail := func(target, code string, err error) (*CallbackResult, error) {
		a.metrics.oauthCallback.WithLabelValues(providerID, code).Inc()
		return &CallbackResult{RedirectURL: withQuery(target, "error", code)}, err
	}
	defaultErrorURL := a.endpointURL("/error", nil)

	p, err := a.provider(providerID)
	if err != nil {
		return fail(defaultErrorURL, CodeProviderNotFound, err)
	}
	state, verifier, err := a.redeemState(ctx, providerID, in.State)
	if err != nil {
		return fail(defaultErrorURL, CodeInvalidState, err)
	}
	errorURL := firstNonEmpty(state.ErrorCallbackURL, state.CallbackURL, defaultErrorURL)
	if in.Error != "" {
		a.logger.Info("provider returned an error", "provider", providerID, "error", in.Error, "description", in.ErrorDescription)
		return fail(errorURL, in.Error, NewUpstreamError(CodeOAuthProviderError, "provider error: "+in.Error, nil))
	}
	if in.Code == "" {
		return fail(errorURL, CodeMissingField, NewValidationError(CodeMissingField, "code is required", "code"))
	}

	tokens, err := p.ExchangeCode(ctx, in.Code, verifier, a.redirectURI(providerID))
	if err != nil {
		a.logger.Error("code exchange failed", "provider", providerID, "error", err)
		return fail(errorURL, CodeCodeExchangeFailed, NewUpstreamError(CodeCodeExchangeFailed, "failed to exchange code", err))
	}
	info, err := p.UserInfo(ctx, tokens)
	if err != nil {
		a.logger.Error("user info failed", "provider", providerID, "error", err)
		return fail(errorURL, CodeUserInfoFailed, NewUpstreamError(CodeUserInfoFailed, "failed to get user info", err))
	}
	if info.ID == "" {
		return fail(errorURL, CodeUserInfoFailed, NewUpstreamError(CodeUserInfoFailed, "provider returned no account id", nil))
	}
	if info.Email == "" {
		return fail(errorURL, CodeEmailNotFound, NewAuthError(CodeEmailNotFound, "provider did not return an email"))
	}

	success := firstNonEmpty(state.CallbackURL, "/")
	if state.Link != nil {
		if err := a.linkProviderAccount(ctx, p, state.Link, tokens, info); err != nil {
			return fail(errorURL, errorCode(err), err)
		}
		a.metrics.oauthCallback.WithLabelValues(providerID, "linked").Inc()
		return &CallbackResult{RedirectURL: success}, nil
	}

	user, isNew, err := a.resolveOAuthUser(ctx, p, tokens, info, state.RequestSignUp)
	if err != nil {
		return fail(errorURL, errorCode(err), err)
	}
	session, err := a.sessions.Create(ctx, user.ID, meta, false)
	if err != nil {
		return fail(errorURL, errorCode(err), err)
	}
	a.metrics.oauthCallback.WithLabelValues(providerID, "signed_in").Inc()
	a.metrics.signIn.WithLabelValues(providerID, "success").Inc()
	if isNew && state.NewUserCallbackURL != "" {
		success = state.NewUserCallbackURL
	}
	return &CallbackResult{
		RedirectURL: success,
		Session:     &SessionWithUser{Session: session, User: user},
		IsNewUser:   isNew,
	}, nil
}

// resolveOAuthUser decides between signing in the owner of a known provider
// account, linking the provider to a user with the same email, and creating
// a new user.
func (a *Auth) resolveOAuthUser(ctx context.Context, p Provider, tokens *OAuthTokens, info *OAuthUserInfo, requestSignUp bool) (*User, bool, error) {
	account, err := a.internal.FindAccountByProvider(ctx, p.ID(), info.ID)
	switch {
	case err == nil:
		user, err := a.internal.FindUserByID(ctx, account.UserID)
		if err != nil {
			return nil, false, err
		}
		if !a.opts.Account.DisableUpdateOnSignIn {
			if _, err := a.internal.UpdateAccount(ctx, account.ID, withGrantedScopes(tokens, account).record()); err != nil {
				a.logger.Warn("failed to update provider tokens", "provider", p.ID(), "error", err)
			}
		}
		return user, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	user, err := a.internal.FindUserByEmail(ctx, info.Email)
	switch {
	case err == nil:
		linking := a.opts.Account.AccountLinking
		trusted := slices.Contains(linking.TrustedProviders, p.ID())
		if linking.Disabled || !(trusted || info.EmailVerified || linking.AllowDifferentEmails) {
			return nil, false, NewAuthError(CodeAccountNotLinked, "an account with this email exists but is not linked to "+p.Name())
		}
		data := tokens.record()
		data["userId"] = user.ID
		data["providerId"] = p.ID()
		data["accountId"] = info.ID
		if _, err := a.internal.CreateAccount(ctx, data); err != nil {
			return nil, false, err
		}
		if info.EmailVerified && !user.EmailVerified && strings.EqualFold(info.Email, user.Email) {
			if user, err = a.internal.UpdateUser(ctx, user.ID, Record{"emailVerified": true}); err != nil {
				return nil, false, err
			}
		}
		a.logger.Info("linked provider account by email", "provider", p.ID(), "userId", user.ID)
		return user, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	if policy, ok := p.(SignUpPolicy); ok {
		if policy.DisableSignUp() || (policy.RequireRequestSignUp() && !requestSignUp) {
			return nil, false, NewValidationError(CodeSignUpDisabled, "sign-up is disabled for "+p.Name(), "")
		}
	}
	userData := Record{"name": info.Name, "email": info.Email, "emailVerified": info.EmailVerified}
	if userData["name"] == "" {
		userData["name"] = strings.SplitN(info.Email, "@", 2)[0]
	}
	if info.Image != "" {
		userData["image"] = info.Image
	}
	accountData := tokens.record()
	accountData["providerId"] = p.ID()
	accountData["accountId"] = info.ID
	user, _, err = a.internal.CreateOAuthUser(ctx, userData, accountData)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// linkProviderAccount attaches the provider account to the user recorded in
// the link intent.
func (a *Auth) linkProviderAccount(ctx context.Context, p Provider, link *linkIntent, tokens *OAuthTokens, info *OAuthUserInfo) error {
	existing, err := a.internal.FindAccountByProvider(ctx, p.ID(), info.ID)
	switch {
	case err == nil && existing.UserID != link.UserID:
		return NewConflictError(CodeAccountLinkedToOtherUser, "this account is already linked to a different user")
	case err == nil:
		_, err = a.internal.UpdateAccount(ctx, existing.ID, withGrantedScopes(tokens, existing).record())
		return err
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if !strings.EqualFold(info.Email, link.Email) && !a.opts.Account.AccountLinking.AllowDifferentEmails {
		return NewAuthError(CodeEmailMismatch, "the provider email does not match the user's email")
	}
	data := tokens.record()
	data["userId"] = link.UserID
	data["providerId"] = p.ID()
	data["accountId"] = info.ID
	if _, err := a.internal.CreateAccount(ctx, data); err != nil {
		return err
	}
	a.logger.Info("linked provider account", "provider", p.ID(), "userId", link.UserID)
	return nil
}

// ListAccounts returns the caller's accounts without their secrets.
func (a *Auth) ListAccounts(ctx context.Context, token string) ([]*Account, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	accounts, err := a.internal.FindAccounts(ctx, sw.User.ID)
	if err != nil {
		return nil, err
	}
	for i, acc := range accounts {
		accounts[i] = &Account{
			ID:         acc.ID,
			AccountID:  acc.AccountID,
			ProviderID: acc.ProviderID,
			UserID:     acc.UserID,
			Scope:      acc.Scope,
			CreatedAt:  acc.CreatedAt,
			UpdatedAt:  acc.UpdatedAt,
		}
	}
	return accounts, nil
}

// UnlinkAccount removes one of the caller's accounts. accountID may be
// empty when the user has a single account with the provider. The last
// account can only go when unlinking all is allowed.
func (a *Auth) UnlinkAccount(ctx context.Context, token, providerID, accountID string) error {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return err
	}
	accounts, err := a.internal.FindAccounts(ctx, sw.User.ID)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(accounts, func(acc *Account) bool {
		return acc.ProviderID == providerID && (accountID == "" || acc.AccountID == accountID)
	})
	if i < 0 {
		return NewNotFoundError(CodeAccountNotFound, "account not found")
	}
	if len(accounts) == 1 && !a.opts.Account.AccountLinking.AllowUnlinkingAll {
		return NewConflictError(CodeFailedToUnlinkLastAccount, "you can not unlink your last account")
	}
	return a.internal.DeleteAccount(ctx, accounts[i].ID)
}

// RefreshProviderToken exchanges the stored refresh token of the caller's
// provider account for new tokens and stores them. A provider rejection
// leaves the session and stored tokens untouched.
func (a *Auth) RefreshProviderToken(ctx context.Context, token, providerID, accountID string) (*OAuthTokens, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	account, err := a.providerAccount(ctx, sw.User.ID, providerID, accountID)
	if err != nil {
		return nil, err
	}
	return a.refreshAccount(ctx, account)
}

// GetAccessToken returns a usable access token for the caller's provider
// account, refreshing it first when it has expired.
func (a *Auth) GetAccessToken(ctx context.Context, token, providerID, accountID string) (*OAuthTokens, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	account, err := a.providerAccount(ctx, sw.User.ID, providerID, accountID)
	if err != nil {
		return nil, err
	}
	exp := account.AccessTokenExpiresAt
	if account.RefreshToken != "" && exp != nil && !a.clock.Now().Add(5*time.Second).Before(*exp) {
		return a.refreshAccount(ctx, account)
	}
	return tokensFromAccount(account), nil
}

func (a *Auth) providerAccount(ctx context.Context, userID, providerID, accountID string) (*Account, error) {
	if _, err := a.provider(providerID); err != nil {
		return nil, err
	}
	accounts, err := a.internal.FindAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(accounts, func(acc *Account) bool {
		return acc.ProviderID == providerID && (accountID == "" || acc.AccountID == accountID)
	})
	if i < 0 {
		return nil, NewNotFoundError(CodeAccountNotFound, "account not found")
	}
	return accounts[i], nil
}

func (a *Auth) refreshAccount(ctx context.Context, account *Account) (*OAuthTokens, error) {
	if account.RefreshToken == "" {
		return nil, NewValidationError(CodeRefreshTokenNotFound, "no refresh token stored for this account", "")
	}
	p := a.providers[account.ProviderID]
	tokens, err := p.RefreshAccessToken(ctx, account.RefreshToken)
	if err != nil {
		a.logger.Warn("provider token refresh failed", "provider", p.ID(), "userId", account.UserID, "error", err)
		return nil, NewUpstreamError(CodeFailedToRefreshAccessToken, "failed to refresh access token", err)
	}
	updated, err := a.internal.UpdateAccount(ctx, account.ID, withGrantedScopes(tokens, account).record())
	if err != nil {
		return nil, err
	}
	return tokensFromAccount(updated), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// errorCode is the stable code of err, or internal_error.
func errorCode(err error) string {
	if e := AsError(err); e != nil && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}
