package client

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerCredential_Expiry(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
		soon      bool
	}{
		{"unknown expiry", time.Time{}, false, false},
		{"expired", now.Add(-time.Hour), true, true},
		{"just expired", now.Add(-time.Second), true, true},
		{"inside the margin", now.Add(2 * time.Minute), false, true},
		{"valid", now.Add(24 * time.Hour), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &ServerCredential{SessionToken: "tok", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expired, c.IsExpired())
			assert.Equal(t, tt.soon, c.IsExpiringSoon(5*time.Minute))
		})
	}
}

// memStore is a CredentialStore keyed by the exact server URL.
type memStore struct {
	creds map[string]*ServerCredential
}

func newMemStore() *memStore {
	return &memStore{creds: map[string]*ServerCredential{}}
}

func (m *memStore) GetCredential(serverURL string) (*ServerCredential, error) {
	return m.creds[serverURL], nil
}

func (m *memStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.creds[serverURL] = cred
	return nil
}

func (m *memStore) RemoveCredential(serverURL string) error {
	delete(m.creds, serverURL)
	return nil
}

func (m *memStore) ListServers() ([]string, error) {
	servers := make([]string, 0, len(m.creds))
	for k := range m.creds {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers, nil
}

func (m *memStore) Save() error { return nil }

func TestAuthClient_GetToken(t *testing.T) {
	tests := []struct {
		name string
		cred *ServerCredential
		want string
	}{
		{"no credential", nil, ""},
		{"valid", &ServerCredential{SessionToken: "valid", ExpiresAt: time.Now().Add(time.Hour)}, "valid"},
		{"expired", &ServerCredential{SessionToken: "stale", ExpiresAt: time.Now().Add(-time.Hour)}, ""},
		{"unknown expiry", &ServerCredential{SessionToken: "open"}, "open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			if tt.cred != nil {
				store.creds["http://localhost:3000"] = tt.cred
			}
			c := NewAuthClient("http://localhost:3000", store)

			token, err := c.GetToken()
			require.NoError(t, err)
			assert.Equal(t, tt.want, token)
			assert.Equal(t, tt.want != "", c.IsLoggedIn())
		})
	}
}

func TestAuthClient_ServerURL(t *testing.T) {
	store := newMemStore()
	store.creds["http://localhost:3000"] = &ServerCredential{SessionToken: "tok"}

	c := NewAuthClient("http://localhost:3000/api/auth/", store)
	assert.Equal(t, "http://localhost:3000", c.ServerURL(), "credentials are keyed by origin")
	assert.True(t, c.IsLoggedIn())
}

func TestAuthClient_Logout(t *testing.T) {
	store := newMemStore()
	store.creds["http://localhost:3000"] = &ServerCredential{SessionToken: "tok"}
	c := NewAuthClient("http://localhost:3000", store)

	require.NoError(t, c.Logout())
	assert.NotContains(t, store.creds, "http://localhost:3000")
	assert.False(t, c.IsLoggedIn())
}

func TestAuthTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer server.Close()

	get := func(t *testing.T, tr http.RoundTripper) string {
		t.Helper()
		resp, err := (&http.Client{Transport: tr}).Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "Bearer abc", get(t, NewAuthTransport("abc")))
	assert.Empty(t, get(t, NewAuthTransport("")), "no header without a token")

	broken := &AuthTransport{Token: func() (string, error) { return "", errors.New("store broken") }}
	_, err := broken.RoundTrip(httptest.NewRequest(http.MethodGet, server.URL, nil))
	assert.Error(t, err)
}

func TestAuthClient_UnauthorizedDropsCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := newMemStore()
	c := NewAuthClient(server.URL, store)
	store.creds[c.ServerURL()] = &ServerCredential{SessionToken: "revoked", ExpiresAt: time.Now().Add(time.Hour)}

	resp, err := c.HTTPClient().Get(server.URL + "/api/things")
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, c.IsLoggedIn(), "a 401 drops the stored session")
}

func TestAPIError(t *testing.T) {
	assert.True(t, IsUnauthorized(&APIError{Status: 401, Code: "unauthorized", Message: "no session"}))
	assert.False(t, IsUnauthorized(&APIError{Status: 400, Code: "invalid_email"}))
	assert.False(t, IsUnauthorized(errors.New("plain")))

	withField := &APIError{Status: 400, Code: "invalid_email", Message: "invalid email address", Field: "email"}
	assert.Equal(t, "invalid_email (400): invalid email address [email]", withField.Error())
}

func TestWithBasePath(t *testing.T) {
	c := NewAuthClient("http://localhost:3000", newMemStore(), WithBasePath("auth/"))
	assert.Equal(t, "/auth", c.basePath)
}
