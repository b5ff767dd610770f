package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ac "github.com/panyam/authcore"
)

// DefaultBasePath is where authcore mounts its handler unless configured
// otherwise.
const DefaultBasePath = "/api/auth"

// APIError is a non 2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%d): %s [%s]", e.Code, e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// AuthClient signs in against an authcore server and authenticates
// subsequent requests with the stored session token.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	basePath      string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithBasePath sets the path the auth handler is mounted under
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = "/" + strings.Trim(path, "/")
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		basePath:      DefaultBasePath,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &AuthTransport{
		Base:  c.baseTransport,
		Token: c.GetToken,
		OnUnauthorized: func() {
			c.Logout()
		},
	}
	return c
}

// HTTPClient returns an HTTP client that sends the session token with
// every request. A 401 drops the stored credential.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored session token, or "" when there is none or
// it has expired.
func (c *AuthClient) GetToken() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	return cred.SessionToken, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// SignUpRequest is the body of an email sign up. Additional carries extra
// user fields declared by the server's schema.
type SignUpRequest struct {
	Name       string
	Email      string
	Password   string
	Image      string
	RememberMe *bool
	Additional map[string]any
}

type authResponse struct {
	Token string   `json:"token"`
	User  *ac.User `json:"user"`
}

// SignUp creates an account. When the server signs the new user in the
// session is stored and returned; otherwise the credential is nil.
func (c *AuthClient) SignUp(ctx context.Context, in SignUpRequest) (*ServerCredential, error) {
	body := map[string]any{}
	for k, v := range in.Additional {
		body[k] = v
	}
	body["name"] = in.Name
	body["email"] = in.Email
	body["password"] = in.Password
	if in.Image != "" {
		body["image"] = in.Image
	}
	if in.RememberMe != nil {
		body["rememberMe"] = *in.RememberMe
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/sign-up/email", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, nil
	}
	return c.storeSession(ctx, resp)
}

// SignIn authenticates with email and password and stores the session
func (c *AuthClient) SignIn(ctx context.Context, email, password string, rememberMe bool) (*ServerCredential, error) {
	body := map[string]any{
		"email":      email,
		"password":   password,
		"rememberMe": rememberMe,
	}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/sign-in/email", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("server did not issue a session")
	}
	return c.storeSession(ctx, resp)
}

// storeSession looks the new token up once to learn its expiry and saves
// the credential.
func (c *AuthClient) storeSession(ctx context.Context, resp authResponse) (*ServerCredential, error) {
	cred := &ServerCredential{
		SessionToken: resp.Token,
		CreatedAt:    time.Now(),
	}
	if resp.User != nil {
		cred.UserID = resp.User.ID
		cred.UserEmail = resp.User.Email
	}

	sw, err := c.session(ctx, resp.Token)
	if err != nil {
		return nil, err
	}
	if sw != nil && sw.Session != nil {
		cred.ExpiresAt = sw.Session.ExpiresAt
		cred.UserID = sw.Session.UserID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Session returns the server's view of the stored session, or nil when
// signed out.
func (c *AuthClient) Session(ctx context.Context) (*ac.SessionWithUser, error) {
	token, err := c.GetToken()
	if err != nil || token == "" {
		return nil, err
	}
	sw, err := c.session(ctx, token)
	if err != nil {
		return nil, err
	}
	if sw == nil {
		c.Logout()
	}
	return sw, nil
}

func (c *AuthClient) session(ctx context.Context, token string) (*ac.SessionWithUser, error) {
	var sw *ac.SessionWithUser
	if err := c.do(ctx, http.MethodGet, "/get-session", token, nil, &sw); err != nil {
		return nil, err
	}
	return sw, nil
}

// SignOut revokes the session on the server and removes it locally. The
// local credential is removed even when the server call fails.
func (c *AuthClient) SignOut(ctx context.Context) error {
	token, err := c.GetToken()
	if err != nil {
		return err
	}
	var serverErr error
	if token != "" {
		serverErr = c.do(ctx, http.MethodPost, "/sign-out", token, nil, nil)
	}
	if err := c.Logout(); err != nil {
		return err
	}
	return serverErr
}

// Logout removes the credential for this server without contacting it
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// do sends a JSON request on the base transport so calls made while
// signing in never pick up a stale token.
func (c *AuthClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.basePath+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
