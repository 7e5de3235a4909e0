// Package client signs in to an accounts server and keeps the resulting
// credential fresh for outgoing requests.
package client

import (
	"sync"
	"time"
)

// Authorization header schemes
const (
	SchemeBearer = "Bearer"
	SchemeToken  = "Token"
)

// Credential is what a sign-in left behind for one server
type Credential struct {
	Scheme       string    `json:"scheme"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"` // zero for session tokens
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired reports whether the access token can no longer be used.
func (c *Credential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// IsExpiringSoon reports whether the token expires within the given duration
func (c *Credential) IsExpiringSoon(within time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Now().Add(within).After(c.ExpiresAt)
}

func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// Header is the Authorization header value for the credential.
func (c *Credential) Header() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = SchemeBearer
	}
	return scheme + " " + c.AccessToken
}

// CredentialStore keeps credentials keyed by server URL
type CredentialStore interface {
	// GetCredential returns nil, nil when nothing is stored for the server
	GetCredential(serverURL string) (*Credential, error)

	SetCredential(serverURL string, cred *Credential) error

	RemoveCredential(serverURL string) error

	ListServers() ([]string, error)

	// Save persists pending changes
	Save() error
}

// MemoryStore is a CredentialStore that keeps credentials for the life of
// the process.
type MemoryStore struct {
	mu      sync.RWMutex
	servers map[string]*Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{servers: map[string]*Credential{}}
}

func (m *MemoryStore) GetCredential(serverURL string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servers[serverURL], nil
}

func (m *MemoryStore) SetCredential(serverURL string, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[serverURL] = cred
	return nil
}

func (m *MemoryStore) RemoveCredential(serverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, serverURL)
	return nil
}

func (m *MemoryStore) ListServers() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.servers))
	for k := range m.servers {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) Save() error { return nil }
