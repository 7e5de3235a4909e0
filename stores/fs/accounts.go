package fs

import (
	"context"
	"errors"
	"os"
	"time"

	acc "github.com/panyam/accounts"
)

// fsAccount is the on-disk account record. acc.Account hides the password
// hash from JSON, so it cannot be written directly.
type fsAccount struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"password_hash"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	DateJoined   time.Time  `json:"date_joined"`
}

func toFSAccount(a *acc.Account) *fsAccount {
	return &fsAccount{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		PasswordHash: a.PasswordHash,
		IsActive:     a.IsActive,
		LastLogin:    a.LastLogin,
		DateJoined:   a.DateJoined,
	}
}

func (r *fsAccount) account() *acc.Account {
	return &acc.Account{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		PasswordHash: r.PasswordHash,
		IsActive:     r.IsActive,
		LastLogin:    r.LastLogin,
		DateJoined:   r.DateJoined,
	}
}

// AccountStore implements acc.AccountStore on the filesystem
type AccountStore struct {
	s *Store
}

func (st *AccountStore) CreateAccount(_ context.Context, account *acc.Account) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	return st.create(account)
}

// create inserts account after the uniqueness checks. Called with mu held.
func (st *AccountStore) create(account *acc.Account) error {
	path, err := st.s.namePath(accountsDir, account.ID)
	if err != nil {
		return err
	}
	clash, err := scan(st.s.dir(accountsDir), func(r *fsAccount) bool {
		return r.ID == account.ID || r.Username == account.Username || r.Email == account.Email
	})
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return acc.ErrConflict
	}
	return writeRecord(path, toFSAccount(account))
}

func (st *AccountStore) GetAccountByID(_ context.Context, id string) (*acc.Account, error) {
	path, err := st.s.namePath(accountsDir, id)
	if err != nil {
		return nil, err
	}
	var r fsAccount
	if err := readRecord(path, &r); err != nil {
		return nil, err
	}
	return r.account(), nil
}

func (st *AccountStore) GetAccountByUsername(_ context.Context, username string) (*acc.Account, error) {
	return st.find(func(r *fsAccount) bool { return r.Username == username })
}

func (st *AccountStore) GetAccountByEmail(_ context.Context, email string) (*acc.Account, error) {
	return st.find(func(r *fsAccount) bool { return r.Email == email })
}

func (st *AccountStore) find(keep func(*fsAccount) bool) (*acc.Account, error) {
	r, err := first(st.s.dir(accountsDir), keep)
	if err != nil {
		return nil, err
	}
	return r.account(), nil
}

func (st *AccountStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	return exists(st.GetAccountByUsername(ctx, username))
}

func (st *AccountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return exists(st.GetAccountByEmail(ctx, email))
}

func exists(_ *acc.Account, err error) (bool, error) {
	if errors.Is(err, acc.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (st *AccountStore) ActivateAccount(_ context.Context, id string, profile *acc.Profile) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	path, err := st.s.namePath(accountsDir, id)
	if err != nil {
		return acc.ErrStaleState
	}
	var r fsAccount
	if err := readRecord(path, &r); err != nil {
		if errors.Is(err, acc.ErrRecordNotFound) {
			return acc.ErrStaleState
		}
		return err
	}
	if r.IsActive {
		return acc.ErrStaleState
	}
	profiles := &ProfileStore{st.s}
	if err := profiles.create(profile); err != nil {
		return err
	}
	r.IsActive = true
	if err := writeRecord(path, &r); err != nil {
		os.Remove(st.s.path(profilesDir, idName(profile.ID)))
		return err
	}
	return nil
}

func (st *AccountStore) ProvisionAccount(_ context.Context, account *acc.Account, profile *acc.Profile, link *acc.SocialAccount) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	if err := st.create(account); err != nil {
		return err
	}
	profile.AccountID = account.ID
	if err := (&ProfileStore{st.s}).create(profile); err != nil {
		os.Remove(st.s.path(accountsDir, account.ID))
		return err
	}
	link.AccountID = account.ID
	if err := (&SocialAccountStore{st.s}).create(link); err != nil {
		os.Remove(st.s.path(profilesDir, idName(profile.ID)))
		os.Remove(st.s.path(accountsDir, account.ID))
		return err
	}
	return nil
}

func (st *AccountStore) SetPasswordHash(_ context.Context, id, currentHash, newHash string) error {
	return st.update(id, func(r *fsAccount) error {
		if r.PasswordHash != currentHash {
			return acc.ErrStaleState
		}
		r.PasswordHash = newHash
		return nil
	})
}

func (st *AccountStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return st.update(id, func(r *fsAccount) error {
		r.LastLogin = &at
		return nil
	})
}

func (st *AccountStore) update(id string, change func(*fsAccount) error) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	path, err := st.s.namePath(accountsDir, id)
	if err != nil {
		return acc.ErrStaleState
	}
	var r fsAccount
	if err := readRecord(path, &r); err != nil {
		if errors.Is(err, acc.ErrRecordNotFound) {
			return acc.ErrStaleState
		}
		return err
	}
	if err := change(&r); err != nil {
		return err
	}
	return writeRecord(path, &r)
}
