package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper and sends the current session
// token as a bearer credential.
type AuthTransport struct {
	Base http.RoundTripper

	// Token returns the token to send. An empty token sends the request
	// unauthenticated.
	Token func() (string, error)

	// OnUnauthorized is called when an authenticated request gets a 401.
	OnUnauthorized func()
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var token string
	if t.Token != nil {
		var err error
		if token, err = t.Token(); err != nil {
			return nil, err
		}
	}
	if token != "" {
		// Clone the request to avoid mutating the original
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.OnUnauthorized != nil {
		t.OnUnauthorized()
	}
	return resp, nil
}

// NewAuthTransport creates an AuthTransport that always sends token
func NewAuthTransport(token string) *AuthTransport {
	return NewAuthTransportWithBase(http.DefaultTransport, token)
}

// NewAuthTransportWithBase creates an AuthTransport with a custom base transport
func NewAuthTransportWithBase(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{
		Base:  base,
		Token: func() (string, error) { return token, nil },
	}
}
