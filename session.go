package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// RequestMeta describes the client that issued a request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// LookupOptions tune a session lookup.
type LookupOptions struct {
	// DisableRefresh skips the sliding expiry update.
	DisableRefresh bool
	// DontRememberMe marks a session created without "remember me"; such
	// sessions are never extended.
	DontRememberMe bool
}

// SessionManager owns the session lifecycle: creation, lookup with sliding
// refresh, freshness and revocation.
type SessionManager struct {
	internal *InternalAdapter
	opts     SessionOptions
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *metrics
}

func newSessionManager(internal *InternalAdapter, opts SessionOptions, clock clockwork.Clock, logger *slog.Logger, m *metrics) *SessionManager {
	return &SessionManager{
		internal: internal,
		opts:     opts,
		clock:    clock,
		logger:   logger.With("component", "sessions"),
		metrics:  m,
	}
}

// Create starts a session for userID.
func (m *SessionManager) Create(ctx context.Context, userID string, meta RequestMeta, dontRememberMe bool) (*Session, error) {
	return m.internal.CreateSession(ctx, userID, meta, dontRememberMe, nil)
}

// Lookup resolves token. Expired sessions are deleted and reported as not
// found. A session whose refresh point has passed gets a new expiry of now
// plus ExpiresIn; the refresh point is ExpiresIn - UpdateAge after the
// previous expiry was set, so an immediate second lookup does not extend
// it again.
func (m *SessionManager) Lookup(ctx context.Context, token string, opts LookupOptions) (sw *SessionWithUser, refreshed bool, err error) {
	if token == "" {
		return nil, false, NewNotFoundError(CodeSessionNotFound, "session not found")
	}
	sw, err = m.internal.FindSession(ctx, token)
	if err != nil {
		return nil, false, err
	}
	now := m.clock.Now()
	if sw.Session.Expired(now) {
		if err := m.internal.DeleteSession(ctx, token); err != nil {
			m.logger.Warn("failed to delete expired session", "error", err)
		}
		return nil, false, NewNotFoundError(CodeSessionNotFound, "session expired")
	}
	if opts.DisableRefresh || opts.DontRememberMe || sw.Session.DontRememberMe || m.opts.DisableSessionRefresh {
		return sw, false, nil
	}
	refreshAt := sw.Session.ExpiresAt.Add(-m.opts.ExpiresIn).Add(m.opts.UpdateAge)
	if now.Before(refreshAt) {
		return sw, false, nil
	}
	updated, err := m.internal.UpdateSession(ctx, token, Record{"expiresAt": now.Add(m.opts.ExpiresIn)})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		m.logger.Error("failed to refresh session", "userId", sw.Session.UserID, "error", err)
		return sw, false, nil
	}
	m.metrics.sessionRefresh.Inc()
	return &SessionWithUser{Session: updated, User: sw.User}, true, nil
}

// IsFresh reports whether the session is young enough for sensitive
// operations.
func (m *SessionManager) IsFresh(s *Session) bool {
	if m.opts.FreshAge < 0 {
		return true
	}
	return m.clock.Since(s.CreatedAt) < m.opts.FreshAge
}

// List returns the user's active sessions.
func (m *SessionManager) List(ctx context.Context, userID string) ([]*Session, error) {
	return m.internal.ListSessions(ctx, userID)
}

// Revoke ends a single session.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.internal.DeleteSession(ctx, token)
}

// RevokeAll ends every session of the user.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	return m.internal.DeleteSessions(ctx, userID)
}

// RevokeOthers ends every session of the user except keepToken.
func (m *SessionManager) RevokeOthers(ctx context.Context, userID, keepToken string) error {
	sessions, err := m.internal.ListSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Token == keepToken {
			continue
		}
		if err := m.internal.DeleteSession(ctx, s.Token); err != nil {
			return err
		}
	}
	return nil
}
