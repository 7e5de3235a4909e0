package fs

import (
	"context"
	"errors"
	"sort"
	"time"

	acc "github.com/panyam/accounts"
)

// SessionTokenStore implements acc.SessionTokenStore on the filesystem,
// one file per account.
type SessionTokenStore struct {
	s *Store
}

func (st *SessionTokenStore) GetOrCreateSessionToken(_ context.Context, accountID string, newKey string) (*acc.SessionToken, bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	path, err := st.s.namePath(sessionTokensDir, accountID)
	if err != nil {
		return nil, false, err
	}
	var token acc.SessionToken
	err = readRecord(path, &token)
	if err == nil {
		return &token, false, nil
	}
	if !errors.Is(err, acc.ErrRecordNotFound) {
		return nil, false, err
	}
	token = acc.SessionToken{Key: newKey, AccountID: accountID, CreatedAt: time.Now().UTC()}
	if err := writeRecord(path, &token); err != nil {
		return nil, false, err
	}
	return &token, true, nil
}

func (st *SessionTokenStore) GetSessionToken(_ context.Context, key string) (*acc.SessionToken, error) {
	return first(st.s.dir(sessionTokensDir), func(t *acc.SessionToken) bool { return t.Key == key })
}

// SocialAccountStore implements acc.SocialAccountStore on the filesystem
type SocialAccountStore struct {
	s *Store
}

func (st *SocialAccountStore) GetSocialAccount(_ context.Context, provider, providerUserID string) (*acc.SocialAccount, error) {
	return first(st.s.dir(socialAccountsDir), func(l *acc.SocialAccount) bool {
		return l.Provider == provider && l.ProviderUserID == providerUserID
	})
}

func (st *SocialAccountStore) CreateSocialAccount(_ context.Context, link *acc.SocialAccount) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.create(link)
}

// create enforces (provider, uid) uniqueness. Called with mu held.
func (st *SocialAccountStore) create(link *acc.SocialAccount) error {
	dir := st.s.dir(socialAccountsDir)
	clash, err := scan(dir, func(l *acc.SocialAccount) bool {
		return l.Provider == link.Provider && l.ProviderUserID == link.ProviderUserID
	})
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return acc.ErrConflict
	}
	id, err := nextID(dir, func(l *acc.SocialAccount) int64 { return l.ID })
	if err != nil {
		return err
	}
	link.ID = id
	return writeRecord(st.s.path(socialAccountsDir, idName(id)), link)
}

func (st *SocialAccountStore) ListSocialAccounts(_ context.Context, accountID string) ([]*acc.SocialAccount, error) {
	out, err := scan(st.s.dir(socialAccountsDir), func(l *acc.SocialAccount) bool { return l.AccountID == accountID })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *SocialAccountStore) TouchSocialLogin(_ context.Context, id int64, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	path := st.s.path(socialAccountsDir, idName(id))
	var link acc.SocialAccount
	if err := readRecord(path, &link); err != nil {
		return err
	}
	link.LastLogin = at
	return writeRecord(path, &link)
}
