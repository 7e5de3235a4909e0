package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 1 * time.Minute

// Endpoint paths relative to the server URL
const (
	SignInPath       = "/sign-in/"
	TokenLoginPath   = "/token/login/"
	TokenRefreshPath = "/token/refresh/"
	SignOutPath      = "/sign-out/"
)

// APIError is a non-2xx answer from the accounts server.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("accounts: %s (HTTP %d)", e.Detail, e.Status)
	}
	return fmt.Sprintf("accounts: HTTP %d", e.Status)
}

// AuthClient is an HTTP client that signs in to an accounts server and
// attaches the stored credential to every request it makes.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithHTTPClient copies timeout, redirect and cookie settings from client
// and wraps its transport.
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
		c.httpClient.Jar = client.Jar
	}
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a client for the accounts API mounted at serverURL,
// e.g. https://api.example.com or https://example.com/accounts.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	c := &AuthClient{
		serverURL:     strings.TrimRight(serverURL, "/"),
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns an http.Client that authorizes its requests
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Login obtains a JWT pair with username or email and password.
func (c *AuthClient) Login(ctx context.Context, username, password string) (*Credential, error) {
	var pair tokenPair
	err := c.post(ctx, TokenLoginPath, map[string]string{"username": username, "password": password}, &pair)
	if err != nil {
		return nil, err
	}
	cred, err := pair.credential()
	if err != nil {
		return nil, err
	}
	cred.Username = username

	c.mu.Lock()
	defer c.mu.Unlock()
	return cred, c.storeLocked(cred)
}

// LoginSession signs in with the session-token scheme. The token does not
// expire and has nothing to refresh.
func (c *AuthClient) LoginSession(ctx context.Context, username, password string) (*Credential, error) {
	var out struct {
		Token    string `json:"token"`
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	err := c.post(ctx, SignInPath, map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		Scheme:      SchemeToken,
		AccessToken: out.Token,
		UserID:      out.UserID,
		Username:    out.Username,
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return cred, c.storeLocked(cred)
}

// Logout ends any server side session and forgets the stored credential.
func (c *AuthClient) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+SignOutPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// Credential returns the stored credential, refreshing it first when it is
// about to expire. It returns nil when there is nothing usable.
func (c *AuthClient) Credential(ctx context.Context) (*Credential, error) {
	c.mu.Lock()
	cred, err := c.store.GetCredential(c.serverURL)
	c.mu.Unlock()
	if err != nil || cred == nil {
		return nil, err
	}

	if cred.IsExpiringSoon(RefreshThreshold) && cred.HasRefreshToken() {
		fresh, err := c.refresh(ctx, cred)
		if err == nil {
			return fresh, nil
		}
		if cred.IsExpired() {
			return nil, fmt.Errorf("token expired and refresh failed: %w", err)
		}
	}
	if cred.IsExpired() {
		return nil, nil
	}
	return cred, nil
}

// IsLoggedIn reports whether a usable credential is stored
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	return err == nil && cred != nil && !cred.IsExpired()
}

// refresh trades the refresh token of stale for a new access token. A
// concurrent caller that already refreshed wins.
func (c *AuthClient) refresh(ctx context.Context, stale *Credential) (*Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return nil, err
	}
	if current != nil && current.AccessToken != stale.AccessToken {
		return current, nil
	}

	var pair tokenPair
	if err := c.post(ctx, TokenRefreshPath, map[string]string{"refresh": stale.RefreshToken}, &pair); err != nil {
		return nil, err
	}
	fresh, err := pair.credential()
	if err != nil {
		return nil, err
	}
	fresh.Username = stale.Username
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stale.RefreshToken
	}
	return fresh, c.storeLocked(fresh)
}

// storeLocked saves cred. Caller must hold c.mu
func (c *AuthClient) storeLocked(cred *Credential) error {
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// post sends body as JSON over the base transport, bypassing the auth
// wrapper, and decodes a 2xx answer into out.
func (c *AuthClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

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
	if resp.StatusCode/100 != 2 {
		return apiError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// apiError reads the error bodies of the accounts API: {"detail","code"}
// from token endpoints and a single message field elsewhere.
func apiError(status int, data []byte) *APIError {
	e := &APIError{Status: status}
	var body map[string]any
	if json.Unmarshal(data, &body) != nil {
		return e
	}
	if code, ok := body["code"].(string); ok {
		e.Code = code
	}
	for _, key := range []string{"detail", "message", "Message", "Error"} {
		if msg, ok := body[key].(string); ok {
			e.Detail = msg
			return e
		}
	}
	return e
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// credential reads the expiry and subject of the access token. The
// signature is not checked here.
func (p tokenPair) credential() (*Credential, error) {
	if p.Access == "" {
		return nil, errors.New("server returned no access token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.Access, claims); err != nil {
		return nil, fmt.Errorf("unreadable access token: %w", err)
	}
	cred := &Credential{
		Scheme:       SchemeBearer,
		AccessToken:  p.Access,
		RefreshToken: p.Refresh,
		CreatedAt:    time.Now(),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cred.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		cred.UserID = sub
	}
	return cred, nil
}
