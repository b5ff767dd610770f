package authcore

import (
	"context"
	"errors"
)

// GetSessionInput carries the credentials of a session read.
type GetSessionInput struct {
	Token string
	// CachedSession is the cookie cache snapshot, when the client sent one.
	CachedSession  string
	DontRememberMe bool
	// DisableCookieCache forces a storage lookup.
	DisableCookieCache bool
	DisableRefresh     bool
}

// SessionResult is a resolved session.
type SessionResult struct {
	*SessionWithUser
	// Refreshed is set when the lookup extended the session's expiry.
	Refreshed bool
	// FromCache is set when the cookie cache answered the lookup.
	FromCache bool
}

// GetSession resolves the caller's session, answering from a valid cookie
// cache snapshot when allowed.
func (a *Auth) GetSession(ctx context.Context, in GetSessionInput) (*SessionResult, error) {
	if in.Token == "" {
		return nil, NewNotFoundError(CodeSessionNotFound, "session not found")
	}
	if a.opts.Session.CookieCache.Enabled && !in.DisableCookieCache && in.CachedSession != "" {
		sw, err := a.cache.parse(in.CachedSession)
		if err == nil && sw.Session.Token == in.Token {
			a.metrics.cookieCache.WithLabelValues("hit").Inc()
			return &SessionResult{SessionWithUser: sw, FromCache: true}, nil
		}
		a.metrics.cookieCache.WithLabelValues("miss").Inc()
	}
	sw, refreshed, err := a.sessions.Lookup(ctx, in.Token, LookupOptions{
		DisableRefresh: in.DisableRefresh,
		DontRememberMe: in.DontRememberMe,
	})
	if err != nil {
		return nil, err
	}
	return &SessionResult{SessionWithUser: sw, Refreshed: refreshed}, nil
}

// requireSession resolves token with a full storage lookup. Missing and
// expired sessions are reported as unauthorized.
func (a *Auth) requireSession(ctx context.Context, token string) (*SessionWithUser, error) {
	sw, _, err := a.sessions.Lookup(ctx, token, LookupOptions{})
	if errors.Is(err, ErrNotFound) {
		return nil, NewAuthError(CodeUnauthorized, "a valid session is required")
	}
	return sw, err
}

// requireFreshSession additionally requires a session younger than
// FreshAge.
func (a *Auth) requireFreshSession(ctx context.Context, token string) (*SessionWithUser, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !a.sessions.IsFresh(sw.Session) {
		return nil, NewAuthError(CodeSessionNotFresh, "session is not fresh, sign in again")
	}
	return sw, nil
}

// SignOut revokes the session behind token. Signing out of a missing
// session succeeds.
func (a *Auth) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.Revoke(ctx, token)
}

// ListSessions returns the active sessions of the caller.
func (a *Auth) ListSessions(ctx context.Context, token string) ([]*Session, error) {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return a.sessions.List(ctx, sw.User.ID)
}

// RevokeSession revokes one of the caller's sessions by its token.
func (a *Auth) RevokeSession(ctx context.Context, token, target string) error {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return err
	}
	found, err := a.internal.FindSession(ctx, target)
	if err != nil || found.Session.UserID != sw.User.ID {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return NewNotFoundError(CodeSessionNotFound, "session not found")
	}
	return a.sessions.Revoke(ctx, target)
}

// RevokeSessions revokes every session of the caller, including this one.
func (a *Auth) RevokeSessions(ctx context.Context, token string) error {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return err
	}
	return a.sessions.RevokeAll(ctx, sw.User.ID)
}

// RevokeOtherSessions revokes every session of the caller but this one.
func (a *Auth) RevokeOtherSessions(ctx context.Context, token string) error {
	sw, err := a.requireSession(ctx, token)
	if err != nil {
		return err
	}
	return a.sessions.RevokeOthers(ctx, sw.User.ID, token)
}
