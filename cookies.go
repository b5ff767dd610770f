package authcore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// Cookie name suffixes. The configured prefix and a dot precede them.
const (
	cookieSessionToken  = "session_token"
	cookieSessionData   = "session_data"
	cookieDontRemember  = "dont_remember"
	secureCookiePrefix  = "__Secure-"
	cookieSignatureSep  = "."
	dontRememberCookieV = "true"
)

// CookieName returns the full name of a cookie, including the secure prefix
// when secure cookies are in use.
func (a *Auth) CookieName(suffix string) string {
	name := a.opts.Cookies.Prefix + "." + suffix
	if a.opts.Cookies.Secure {
		name = secureCookiePrefix + name
	}
	return name
}

// SessionTokenCookieName is the name of the signed session token cookie.
func (a *Auth) SessionTokenCookieName() string { return a.CookieName(cookieSessionToken) }

// signValue appends an HMAC-SHA256 signature to value.
func (a *Auth) signValue(value string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(value))
	return value + cookieSignatureSep + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// unsignValue verifies a value produced by signValue.
func (a *Auth) unsignValue(signed string) (string, bool) {
	i := strings.LastIndex(signed, cookieSignatureSep)
	if i <= 0 {
		return "", false
	}
	value, sig := signed[:i], signed[i+1:]
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(value))
	return value, hmac.Equal(got, mac.Sum(nil))
}

func (a *Auth) newCookie(suffix, value string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     a.CookieName(suffix),
		Value:    value,
		Path:     "/",
		Domain:   a.opts.Cookies.Domain,
		HttpOnly: true,
		Secure:   a.opts.Cookies.Secure,
		SameSite: a.opts.Cookies.SameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
	}
	return c
}

func (a *Auth) expiredCookie(suffix string) *http.Cookie {
	c := a.newCookie(suffix, "", 0)
	c.MaxAge = -1
	return c
}

// RequestCredentials are the session inputs carried by a request.
type RequestCredentials struct {
	Token          string
	CachedSession  string
	DontRememberMe bool
}

// CredentialsFromRequest reads the session cookies, falling back to a
// bearer token. Cookies with a bad signature are ignored.
func (a *Auth) CredentialsFromRequest(r *http.Request) RequestCredentials {
	var creds RequestCredentials
	if c, err := r.Cookie(a.CookieName(cookieSessionToken)); err == nil {
		if token, ok := a.unsignValue(c.Value); ok {
			creds.Token = token
		}
	}
	if creds.Token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			creds.Token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if c, err := r.Cookie(a.CookieName(cookieSessionData)); err == nil {
		creds.CachedSession = c.Value
	}
	if c, err := r.Cookie(a.CookieName(cookieDontRemember)); err == nil {
		if v, ok := a.unsignValue(c.Value); ok && v == dontRememberCookieV {
			creds.DontRememberMe = true
		}
	}
	return creds
}

// SetSessionCookies writes the session token cookie and, when enabled, a
// fresh cookie cache snapshot. Sessions created without "remember me" get
// browser session cookies.
func (a *Auth) SetSessionCookies(w http.ResponseWriter, sw *SessionWithUser, dontRememberMe bool) {
	maxAge := a.opts.Session.ExpiresIn
	if dontRememberMe {
		maxAge = 0
	}
	http.SetCookie(w, a.newCookie(cookieSessionToken, a.signValue(sw.Session.Token), maxAge))
	if dontRememberMe {
		http.SetCookie(w, a.newCookie(cookieDontRemember, a.signValue(dontRememberCookieV), 0))
	} else {
		http.SetCookie(w, a.expiredCookie(cookieDontRemember))
	}
	a.setCacheCookie(w, sw)
}

func (a *Auth) setCacheCookie(w http.ResponseWriter, sw *SessionWithUser) {
	if !a.opts.Session.CookieCache.Enabled {
		return
	}
	snapshot, err := a.cache.issue(&SessionWithUser{
		Session: SessionFromRecord(a.schema.StripHidden(ModelSession, sw.Session.Record())),
		User:    UserFromRecord(a.schema.StripHidden(ModelUser, sw.User.Record())),
	})
	if err != nil {
		a.logger.Error("failed to issue cookie cache", "error", err)
		http.SetCookie(w, a.expiredCookie(cookieSessionData))
		return
	}
	http.SetCookie(w, a.newCookie(cookieSessionData, snapshot, a.opts.Session.CookieCache.MaxAge))
}

// ClearSessionCookies expires every session cookie.
func (a *Auth) ClearSessionCookies(w http.ResponseWriter) {
	for _, suffix := range []string{cookieSessionToken, cookieSessionData, cookieDontRemember} {
		http.SetCookie(w, a.expiredCookie(suffix))
	}
}
