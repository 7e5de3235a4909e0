// Package fs stores accounts as JSON files, one file per record.
//
// # File Structure
//
//	{StoragePath}/
//	├── accounts/           # <account id>.json
//	├── profiles/           # <profile id>.json
//	├── session_tokens/     # <account id>.json
//	└── social_accounts/    # <link id>.json
//
// # Concurrency Model
//
// A single Store serializes every write behind one mutex, which is what
// makes ActivateAccount and ProvisionAccount all-or-nothing. Two processes
// must not share a StoragePath. Lookups by username or email scan the
// accounts directory, so the store suits development and small single node
// deployments; use the gorm stores for anything larger.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	acc "github.com/panyam/accounts"
)

const (
	accountsDir       = "accounts"
	profilesDir       = "profiles"
	sessionTokensDir  = "session_tokens"
	socialAccountsDir = "social_accounts"
)

// Store is the root of a filesystem backed account database.
type Store struct {
	StoragePath string

	mu sync.Mutex
}

// New opens (creating if needed) a store rooted at storagePath.
func New(storagePath string) (*Store, error) {
	for _, dir := range []string{accountsDir, profilesDir, sessionTokensDir, socialAccountsDir} {
		if err := os.MkdirAll(filepath.Join(storagePath, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{StoragePath: storagePath}, nil
}

// Stores returns every account store backed by s.
func (s *Store) Stores() acc.Stores {
	return acc.Stores{
		Accounts:       &AccountStore{s},
		Profiles:       &ProfileStore{s},
		SessionTokens:  &SessionTokenStore{s},
		SocialAccounts: &SocialAccountStore{s},
	}
}

func (s *Store) dir(kind string) string {
	return filepath.Join(s.StoragePath, kind)
}

func (s *Store) path(kind, name string) string {
	return filepath.Join(s.StoragePath, kind, name+".json")
}

// errBadName is returned for ids that would resolve outside their directory.
var errBadName = fmt.Errorf("fs: invalid record name: %w", acc.ErrRecordNotFound)

// namePath is path for names that come from callers, such as account ids
// decoded from links.
func (s *Store) namePath(kind, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`+"\x00") {
		return "", errBadName
	}
	return s.path(kind, name), nil
}

func idName(id int64) string {
	return strconv.FormatInt(id, 10)
}

// nextID returns one more than the largest id in dir. Called with mu held.
func nextID[T any](dir string, idOf func(*T) int64) (int64, error) {
	all, err := scan[T](dir, nil)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, rec := range all {
		if id := idOf(rec); id > max {
			max = id
		}
	}
	return max + 1, nil
}
