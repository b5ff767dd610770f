package authcore

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession returns ctx carrying sw.
func ContextWithSession(ctx context.Context, sw *SessionWithUser) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sw)
}

// SessionFromContext returns the session stored by the middleware, or nil.
func SessionFromContext(ctx context.Context) *SessionWithUser {
	sw, _ := ctx.Value(sessionContextKey{}).(*SessionWithUser)
	return sw
}

// UserIDFromContext returns the id of the signed in user, or "".
func UserIDFromContext(ctx context.Context) string {
	if sw := SessionFromContext(ctx); sw != nil && sw.User != nil {
		return sw.User.ID
	}
	return ""
}

// RequireSession rejects requests without a valid session with 401 and
// stores the session in the request context otherwise.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := a.sessionFromRequest(w, r)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if res == nil {
			a.writeError(w, NewAuthError(CodeUnauthorized, "a valid session is required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), res.SessionWithUser)))
	})
}

// OptionalSession stores the session in the request context when there is
// one and always calls next.
func (a *Auth) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if res, err := a.sessionFromRequest(w, r); err == nil && res != nil {
			r = r.WithContext(ContextWithSession(r.Context(), res.SessionWithUser))
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFromRequest resolves the request's session and keeps its cookies
// current. A missing or expired session yields nil, nil and clears stale
// cookies.
func (a *Auth) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*SessionResult, error) {
	creds := a.CredentialsFromRequest(r)
	if creds.Token == "" {
		return nil, nil
	}
	q := r.URL.Query()
	res, err := a.GetSession(r.Context(), GetSessionInput{
		Token:              creds.Token,
		CachedSession:      creds.CachedSession,
		DontRememberMe:     creds.DontRememberMe,
		DisableCookieCache: q.Get("disableCookieCache") == "true",
		DisableRefresh:     q.Get("disableRefresh") == "true",
	})
	if errors.Is(err, ErrNotFound) {
		a.ClearSessionCookies(w)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	switch {
	case res.Refreshed:
		a.SetSessionCookies(w, res.SessionWithUser, creds.DontRememberMe || res.Session.DontRememberMe)
	case !res.FromCache:
		a.setCacheCookie(w, res.SessionWithUser)
	}
	return res, nil
}

// clientIP returns the first usable address from the configured headers,
// falling back to the connection's remote address.
func (a *Auth) clientIP(r *http.Request) string {
	for _, h := range a.opts.IPAddressHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		ip := strings.TrimSpace(strings.Split(v, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}

func (a *Auth) requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{IPAddress: a.clientIP(r), UserAgent: r.UserAgent()}
}

// rateLimit gates every request under the base path.
func (a *Auth) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, a.opts.BasePath)
		if err := a.limiter.Check(r.Context(), a.clientIP(r), path); err != nil {
			a.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
