package authcore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler returns the HTTP binding of the API, mounted under BasePath.
// Every route passes the rate limiter first.
func (a *Auth) Handler() http.Handler {
	root := mux.NewRouter()
	r := root.PathPrefix(a.opts.BasePath).Subrouter()
	r.Use(a.rateLimit)

	r.HandleFunc("/sign-up/email", a.handleSignUpEmail).Methods(http.MethodPost)
	r.HandleFunc("/sign-in/email", a.handleSignInEmail).Methods(http.MethodPost)
	r.HandleFunc("/sign-in/social", a.handleSignInSocial).Methods(http.MethodPost)
	r.HandleFunc("/callback/{provider}", a.handleCallback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/sign-out", a.handleSignOut).Methods(http.MethodPost)
	r.HandleFunc("/get-session", a.handleGetSession).Methods(http.MethodGet)

	r.HandleFunc("/list-sessions", a.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/revoke-session", a.handleRevokeSession).Methods(http.MethodPost)
	r.HandleFunc("/revoke-sessions", a.handleRevokeSessions).Methods(http.MethodPost)
	r.HandleFunc("/revoke-other-sessions", a.handleRevokeOtherSessions).Methods(http.MethodPost)

	r.HandleFunc("/update-user", a.handleUpdateUser).Methods(http.MethodPost)
	r.HandleFunc("/change-email", a.handleChangeEmail).Methods(http.MethodPost)
	r.HandleFunc("/send-verification-email", a.handleSendVerificationEmail).Methods(http.MethodPost)
	r.HandleFunc("/verify-email", a.handleVerifyEmail).Methods(http.MethodGet)
	r.HandleFunc("/change-password", a.handleChangePassword).Methods(http.MethodPost)
	r.HandleFunc("/request-password-reset", a.handleRequestPasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/reset-password/{token}", a.handleResetPasswordLink).Methods(http.MethodGet)
	r.HandleFunc("/reset-password", a.handleResetPassword).Methods(http.MethodPost)
	r.HandleFunc("/delete-user", a.handleDeleteUser).Methods(http.MethodPost)
	r.HandleFunc("/delete-user/callback", a.handleDeleteUserCallback).Methods(http.MethodGet)

	r.HandleFunc("/list-accounts", a.handleListAccounts).Methods(http.MethodGet)
	r.HandleFunc("/link-social", a.handleLinkSocial).Methods(http.MethodPost)
	r.HandleFunc("/unlink-account", a.handleUnlinkAccount).Methods(http.MethodPost)
	r.HandleFunc("/refresh-token", a.handleRefreshToken).Methods(http.MethodPost)
	r.HandleFunc("/get-access-token", a.handleGetAccessToken).Methods(http.MethodPost)

	r.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodGet)
	r.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: r.URL.Query().Get("error"), Message: "authentication failed"})
	}).Methods(http.MethodGet)
	return root
}

// =============================================================================
// Wire helpers
// =============================================================================

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status and a {code, message, field} body.
// Internal details are logged, not sent.
func (a *Auth) writeError(w http.ResponseWriter, err error) {
	e := AsError(err)
	if e.Kind == KindInternal {
		a.logger.Error("request failed", "error", err)
	}
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds()+0.999)))
	}
	writeJSON(w, e.HTTPStatus(), errorBody{Code: e.Code, Message: e.Message, Field: e.Field})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return NewValidationError(CodeInvalidField, "invalid request body", "")
	}
	return nil
}

// redirectOrJSON sends the user agent to target when one was given.
func redirectOrJSON(w http.ResponseWriter, r *http.Request, target string, v any) {
	if target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type authResponse struct {
	Token    string `json:"token,omitempty"`
	User     Record `json:"user"`
	URL      string `json:"url,omitempty"`
	Redirect bool   `json:"redirect"`
}

// sessionResponse is the client view of a session and its owner.
type sessionResponse struct {
	Session Record `json:"session"`
	User    Record `json:"user"`
}

// userOutput shapes u through the schema before it leaves the process.
func (a *Auth) userOutput(u *User) Record {
	if u == nil {
		return nil
	}
	return a.schema.ParseOutput(ModelUser, u.Record())
}

func (a *Auth) sessionOutput(s *Session) Record {
	if s == nil {
		return nil
	}
	return a.schema.ParseOutput(ModelSession, s.Record())
}

func (a *Auth) sessionWithUserOutput(sw *SessionWithUser) *sessionResponse {
	return &sessionResponse{Session: a.sessionOutput(sw.Session), User: a.userOutput(sw.User)}
}

// respondAuth sets the session cookies when a session was created.
func (a *Auth) respondAuth(w http.ResponseWriter, res *AuthResult, callbackURL string) {
	out := authResponse{User: a.userOutput(res.User), URL: callbackURL, Redirect: callbackURL != ""}
	if sw := res.SessionWithUser(); sw != nil {
		a.SetSessionCookies(w, sw, res.DontRememberMe)
		out.Token = sw.Session.Token
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Auth) token(r *http.Request) string {
	return a.CredentialsFromRequest(r).Token
}

// popString removes key from rec and returns its string value.
func popString(rec Record, key string) string {
	v, _ := rec[key].(string)
	delete(rec, key)
	return v
}

func popBool(rec Record, key string) *bool {
	v, ok := rec[key].(bool)
	delete(rec, key)
	if !ok {
		return nil
	}
	return &v
}

// =============================================================================
// Email and password
// =============================================================================

func (a *Auth) handleSignUpEmail(w http.ResponseWriter, r *http.Request) {
	var body Record
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	in := SignUpEmailInput{
		Name:        popString(body, "name"),
		Email:       popString(body, "email"),
		Password:    popString(body, "password"),
		Image:       popString(body, "image"),
		RememberMe:  popBool(body, "rememberMe"),
		CallbackURL: popString(body, "callbackURL"),
		Additional:  body,
	}
	res, err := a.SignUpEmail(r.Context(), in, a.requestMeta(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondAuth(w, res, in.CallbackURL)
}

func (a *Auth) handleSignInEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		RememberMe  *bool  `json:"rememberMe"`
		CallbackURL string `json:"callbackURL"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.checkCallbackURL(body.CallbackURL); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.SignInEmail(r.Context(), SignInEmailInput{
		Email:       body.Email,
		Password:    body.Password,
		RememberMe:  body.RememberMe,
		CallbackURL: body.CallbackURL,
	}, a.requestMeta(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.respondAuth(w, res, body.CallbackURL)
}

func (a *Auth) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := a.SignOut(r.Context(), a.token(r)); err != nil {
		a.writeError(w, err)
		return
	}
	a.ClearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *Auth) handleGetSession(w http.ResponseWriter, r *http.Request) {
	res, err := a.sessionFromRequest(w, r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, a.sessionWithUserOutput(res.SessionWithUser))
}

// =============================================================================
// Sessions
// =============================================================================

func (a *Auth) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.ListSessions(r.Context(), a.token(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]Record, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, a.sessionOutput(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Auth) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	current := a.token(r)
	if err := a.RevokeSession(r.Context(), current, body.Token); err != nil {
		a.writeError(w, err)
		return
	}
	if body.Token == current {
		a.ClearSessionCookies(w)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (a *Auth) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	if err := a.RevokeSessions(r.Context(), a.token(r)); err != nil {
		a.writeError(w, err)
		return
	}
	a.ClearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (a *Auth) handleRevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	if err := a.RevokeOtherSessions(r.Context(), a.token(r)); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// =============================================================================
// User
// =============================================================================

func (a *Auth) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var body Record
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	in := UpdateUserInput{Additional: body}
	if _, ok := body["name"]; ok {
		name := popString(body, "name")
		in.Name = &name
	}
	if _, ok := body["image"]; ok {
		image := popString(body, "image")
		in.Image = &image
	}
	token := a.token(r)
	user, err := a.UpdateUser(r.Context(), token, in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.reissueCache(w, r, token)
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "user": a.userOutput(user)})
}

// reissueCache refreshes the cookie cache after a user change.
func (a *Auth) reissueCache(w http.ResponseWriter, r *http.Request, token string) {
	if !a.opts.Session.CookieCache.Enabled {
		return
	}
	res, err := a.GetSession(r.Context(), GetSessionInput{Token: token, DisableCookieCache: true, DisableRefresh: true})
	if err != nil {
		return
	}
	a.setCacheCookie(w, res.SessionWithUser)
}

func (a *Auth) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewEmail    string `json:"newEmail"`
		CallbackURL string `json:"callbackURL"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	token := a.token(r)
	if err := a.ChangeEmail(r.Context(), token, body.NewEmail, body.CallbackURL); err != nil {
		a.writeError(w, err)
		return
	}
	a.reissueCache(w, r, token)
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (a *Auth) handleSendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		CallbackURL string `json:"callbackURL"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.SendVerificationEmail(r.Context(), body.Email, body.CallbackURL); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (a *Auth) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callbackURL := q.Get("callbackURL")
	if err := a.checkCallbackURL(callbackURL); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.VerifyEmail(r.Context(), q.Get("token"), a.requestMeta(r))
	if err != nil {
		if callbackURL != "" {
			http.Redirect(w, r, withQuery(callbackURL, "error", errorCode(err)), http.StatusFound)
			return
		}
		a.writeError(w, err)
		return
	}
	if sw := res.SessionWithUser(); sw != nil {
		a.SetSessionCookies(w, sw, false)
	}
	redirectOrJSON(w, r, callbackURL, map[string]any{"status": true, "user": a.userOutput(res.User)})
}

func (a *Auth) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword     string `json:"currentPassword"`
		NewPassword         string `json:"newPassword"`
		RevokeOtherSessions bool   `json:"revokeOtherSessions"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.ChangePassword(r.Context(), a.token(r), ChangePasswordInput{
		CurrentPassword:     body.CurrentPassword,
		NewPassword:         body.NewPassword,
		RevokeOtherSessions: body.RevokeOtherSessions,
	}, a.requestMeta(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := authResponse{User: a.userOutput(res.User)}
	if body.RevokeOtherSessions {
		a.SetSessionCookies(w, res.SessionWithUser(), false)
		out.Token = res.Session.Token
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Auth) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email      string `json:"email"`
		RedirectTo string `json:"redirectTo"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.RequestPasswordReset(r.Context(), body.Email, body.RedirectTo); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// handleResetPasswordLink is the landing point of reset emails. It forwards
// a still valid token to the application's reset page.
func (a *Auth) handleResetPasswordLink(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	callbackURL := r.URL.Query().Get("callbackURL")
	if callbackURL == "" || a.checkCallbackURL(callbackURL) != nil {
		a.writeError(w, NewValidationError(CodeInvalidCallbackURL, "a callback URL is required", "callbackURL"))
		return
	}
	if _, err := a.internal.FindVerification(r.Context(), identifierResetPassword+token); err != nil {
		http.Redirect(w, r, withQuery(callbackURL, "error", CodeInvalidToken), http.StatusFound)
		return
	}
	http.Redirect(w, r, withQuery(callbackURL, "token", token), http.StatusFound)
}

func (a *Auth) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if body.Token == "" {
		body.Token = r.URL.Query().Get("token")
	}
	if err := a.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (a *Auth) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password    string `json:"password"`
		CallbackURL string `json:"callbackURL"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.DeleteUser(r.Context(), a.token(r), DeleteUserInput{Password: body.Password, CallbackURL: body.CallbackURL})
	if err != nil {
		a.writeError(w, err)
		return
	}
	if res.Deleted {
		a.ClearSessionCookies(w)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "user deleted"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "verification email sent"})
}

func (a *Auth) handleDeleteUserCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callbackURL := q.Get("callbackURL")
	if err := a.checkCallbackURL(callbackURL); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.DeleteUserCallback(r.Context(), a.token(r), q.Get("token")); err != nil {
		a.writeError(w, err)
		return
	}
	a.ClearSessionCookies(w)
	redirectOrJSON(w, r, callbackURL, map[string]any{"success": true, "message": "user deleted"})
}

// =============================================================================
// Social
// =============================================================================

func (a *Auth) handleSignInSocial(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider           string   `json:"provider"`
		CallbackURL        string   `json:"callbackURL"`
		ErrorCallbackURL   string   `json:"errorCallbackURL"`
		NewUserCallbackURL string   `json:"newUserCallbackURL"`
		RequestSignUp      bool     `json:"requestSignUp"`
		Scopes             []string `json:"scopes"`
		DisableRedirect    bool     `json:"disableRedirect"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.SignInSocial(r.Context(), SignInSocialInput{
		Provider:           body.Provider,
		CallbackURL:        body.CallbackURL,
		ErrorCallbackURL:   body.ErrorCallbackURL,
		NewUserCallbackURL: body.NewUserCallbackURL,
		RequestSignUp:      body.RequestSignUp,
		Scopes:             body.Scopes,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": res.URL, "redirect": !body.DisableRedirect})
}

func (a *Auth) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.writeError(w, NewValidationError(CodeInvalidField, "invalid callback request", ""))
		return
	}
	res, err := a.HandleOAuthCallback(r.Context(), mux.Vars(r)["provider"], CallbackInput{
		Code:             r.Form.Get("code"),
		State:            r.Form.Get("state"),
		Error:            r.Form.Get("error"),
		ErrorDescription: r.Form.Get("error_description"),
	}, a.requestMeta(r))
	if err != nil {
		var e *Error
		if !errors.As(err, &e) || e.Kind == KindInternal {
			a.logger.Error("oauth callback failed", "error", err)
		}
	}
	if res.Session != nil {
		a.SetSessionCookies(w, res.Session, false)
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (a *Auth) handleLinkSocial(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider         string   `json:"provider"`
		CallbackURL      string   `json:"callbackURL"`
		ErrorCallbackURL string   `json:"errorCallbackURL"`
		Scopes           []string `json:"scopes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.LinkSocial(r.Context(), a.token(r), LinkSocialInput{
		Provider:         body.Provider,
		CallbackURL:      body.CallbackURL,
		ErrorCallbackURL: body.ErrorCallbackURL,
		Scopes:           body.Scopes,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": res.URL, "redirect": true})
}

func (a *Auth) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.ListAccounts(r.Context(), a.token(r))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type providerAccountBody struct {
	ProviderID string `json:"providerId"`
	AccountID  string `json:"accountId"`
}

func (a *Auth) handleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	var body providerAccountBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.UnlinkAccount(r.Context(), a.token(r), body.ProviderID, body.AccountID); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

type tokensResponse struct {
	AccessToken          string   `json:"accessToken"`
	IDToken              string   `json:"idToken,omitempty"`
	AccessTokenExpiresAt *int64   `json:"accessTokenExpiresAt,omitempty"`
	Scopes               []string `json:"scopes,omitempty"`
}

func newTokensResponse(t *OAuthTokens) tokensResponse {
	out := tokensResponse{AccessToken: t.AccessToken, IDToken: t.IDToken, Scopes: t.Scopes}
	if !t.AccessTokenExpiresAt.IsZero() {
		ms := t.AccessTokenExpiresAt.UnixMilli()
		out.AccessTokenExpiresAt = &ms
	}
	return out
}

func (a *Auth) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var body providerAccountBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	tokens, err := a.RefreshProviderToken(r.Context(), a.token(r), body.ProviderID, body.AccountID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokensResponse(tokens))
}

func (a *Auth) handleGetAccessToken(w http.ResponseWriter, r *http.Request) {
	var body providerAccountBody
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	tokens, err := a.GetAccessToken(r.Context(), a.token(r), body.ProviderID, body.AccountID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokensResponse(tokens))
}
