package authcore

import (
	"net/url"
	"strings"
)

// checkCallbackURL accepts an empty value, a relative path, or an absolute
// URL on BaseURL's origin or one of TrustedOrigins.
func (a *Auth) checkCallbackURL(raw string) error {
	if raw == "" || a.isTrustedURL(raw) {
		return nil
	}
	return NewValidationError(CodeInvalidCallbackURL, "callback URL is not a trusted origin", "callbackURL")
}

func (a *Auth) isTrustedURL(raw string) bool {
	// Protocol relative and backslash forms would leave the origin.
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	origin := originOf(u)
	for _, trusted := range a.trustedOrigins() {
		if origin == trusted {
			return true
		}
		// *.example.com matches any subdomain.
		if rest, ok := strings.CutPrefix(trusted, "*."); ok && strings.HasSuffix(u.Host, "."+rest) {
			return true
		}
	}
	return false
}

func (a *Auth) trustedOrigins() []string {
	origins := make([]string, 0, len(a.opts.TrustedOrigins)+1)
	if a.opts.BaseURL != "" {
		if u, err := url.Parse(a.opts.BaseURL); err == nil {
			origins = append(origins, originOf(u))
		}
	}
	for _, o := range a.opts.TrustedOrigins {
		origins = append(origins, strings.TrimSuffix(strings.ToLower(o), "/"))
	}
	return origins
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// endpointURL is the absolute URL of an endpoint under BasePath. Without a
// BaseURL the result is host relative.
func (a *Auth) endpointURL(path string, query url.Values) string {
	out := a.opts.BaseURL + a.opts.BasePath + path
	if len(query) > 0 {
		out += "?" + query.Encode()
	}
	return out
}

// withQuery appends key=value to target, keeping its existing query.
func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
