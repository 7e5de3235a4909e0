package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const credentialsFileVersion = 1

type credentialsFile struct {
	Version     int                    `json:"version"`
	Credentials map[string]*Credential `json:"credentials"`
}

// FileStore is a CredentialStore kept in one JSON file readable only by its
// owner. Changes reach disk on Save, through a rename so a crash never
// leaves a torn file.
type FileStore struct {
	path string

	mu    sync.Mutex
	creds map[string]*Credential
	dirty bool
}

// DefaultCredentialsPath is <user config dir>/<app>/credentials.json
func DefaultCredentialsPath(app string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	if app == "" {
		app = "accounts"
	}
	return filepath.Join(dir, app, "credentials.json"), nil
}

// OpenFileStore loads the credentials at path; a missing file is an empty
// store. Bearer credentials that expired with nothing to refresh them are
// dropped on load.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, creds: map[string]*Credential{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}
	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.Version > credentialsFileVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, file.Version)
	}
	for server, cred := range file.Credentials {
		if cred == nil || (cred.IsExpired() && !cred.HasRefreshToken()) {
			fs.dirty = true
			continue
		}
		fs.creds[server] = cred
	}
	return fs, nil
}

func (f *FileStore) Path() string { return f.path }

// serverKey identifies a server by scheme, host and mount path.
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", serverURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), nil
}

func (f *FileStore) GetCredential(serverURL string) (*Credential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[key], nil
}

func (f *FileStore) SetCredential(serverURL string, cred *Credential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[key] = cred
	f.dirty = true
	return nil
}

func (f *FileStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creds[key]; ok {
		delete(f.creds, key)
		f.dirty = true
	}
	return nil
}

func (f *FileStore) ListServers() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.creds))
	for k := range f.creds {
		out = append(out, k)
	}
	return out, nil
}

func (f *FileStore) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	data, err := json.MarshalIndent(credentialsFile{Version: credentialsFileVersion, Credentials: f.creds}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return err
	}
	f.dirty = false
	return nil
}
