//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	acc "github.com/panyam/accounts"
)

// AccountEntity is the Datastore entity for accounts. A zero LastLogin
// means the account never signed in.
type AccountEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	FirstName    string         `datastore:"first_name,noindex"`
	LastName     string         `datastore:"last_name,noindex"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	IsActive     bool           `datastore:"is_active"`
	LastLogin    time.Time      `datastore:"last_login,noindex"`
	DateJoined   time.Time      `datastore:"date_joined"`
}

func (e *AccountEntity) ToAccount() *acc.Account {
	a := &acc.Account{
		ID:           e.Key.Name,
		Username:     e.Username,
		Email:        e.Email,
		FirstName:    e.FirstName,
		LastName:     e.LastName,
		PasswordHash: e.PasswordHash,
		IsActive:     e.IsActive,
		DateJoined:   e.DateJoined,
	}
	if !e.LastLogin.IsZero() {
		ll := e.LastLogin
		a.LastLogin = &ll
	}
	return a
}

func AccountToEntity(a *acc.Account, key *datastore.Key) *AccountEntity {
	e := &AccountEntity{
		Key:          key,
		Username:     a.Username,
		Email:        a.Email,
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		PasswordHash: a.PasswordHash,
		IsActive:     a.IsActive,
		DateJoined:   a.DateJoined,
	}
	if a.LastLogin != nil {
		e.LastLogin = *a.LastLogin
	}
	return e
}

// MarkerEntity reserves a unique value (username, email, an account's
// profile slot) for one account.
type MarkerEntity struct {
	AccountID string `datastore:"account_id"`
	ProfileID int64  `datastore:"profile_id,noindex"`
}

// ProfileEntity is the Datastore entity for profiles
type ProfileEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	ProfileID  int64          `datastore:"profile_id"`
	AccountID  string         `datastore:"account_id"`
	FirstName  string         `datastore:"first_name,noindex"`
	MiddleName string         `datastore:"middle_name,noindex"`
	LastName   string         `datastore:"last_name,noindex"`
	Email      string         `datastore:"email,noindex"`
	Attributes []byte         `datastore:"attributes,noindex"` // JSON encoded
	CreatedAt  time.Time      `datastore:"created_at"`
	UpdatedAt  time.Time      `datastore:"updated_at"`
}

func (e *ProfileEntity) ToProfile() *acc.Profile {
	p := &acc.Profile{
		ID:         e.ProfileID,
		AccountID:  e.AccountID,
		FirstName:  e.FirstName,
		MiddleName: e.MiddleName,
		LastName:   e.LastName,
		Email:      e.Email,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if len(e.Attributes) > 0 {
		json.Unmarshal(e.Attributes, &p.Attributes)
	}
	return p
}

func ProfileToEntity(p *acc.Profile, key *datastore.Key) (*ProfileEntity, error) {
	e := &ProfileEntity{
		Key:        key,
		ProfileID:  p.ID,
		AccountID:  p.AccountID,
		FirstName:  p.FirstName,
		MiddleName: p.MiddleName,
		LastName:   p.LastName,
		Email:      p.Email,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.Attributes != nil {
		b, err := json.Marshal(p.Attributes)
		if err != nil {
			return nil, err
		}
		e.Attributes = b
	}
	return e, nil
}

// SessionTokenEntity is keyed by account id; TokenKey is indexed for lookups.
type SessionTokenEntity struct {
	TokenKey  string    `datastore:"token_key"`
	AccountID string    `datastore:"account_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

func (e *SessionTokenEntity) ToSessionToken() *acc.SessionToken {
	return &acc.SessionToken{Key: e.TokenKey, AccountID: e.AccountID, CreatedAt: e.CreatedAt}
}

// SocialAccountEntity is keyed by "<provider>:<uid>"
type SocialAccountEntity struct {
	LinkID         int64     `datastore:"link_id"`
	Provider       string    `datastore:"provider"`
	ProviderUserID string    `datastore:"provider_user_id"`
	AccountID      string    `datastore:"account_id"`
	Email          string    `datastore:"email,noindex"`
	ExtraData      []byte    `datastore:"extra_data,noindex"` // JSON encoded
	CreatedAt      time.Time `datastore:"created_at"`
	LastLogin      time.Time `datastore:"last_login,noindex"`
}

func (e *SocialAccountEntity) ToSocialAccount() *acc.SocialAccount {
	s := &acc.SocialAccount{
		ID:             e.LinkID,
		Provider:       e.Provider,
		ProviderUserID: e.ProviderUserID,
		AccountID:      e.AccountID,
		Email:          e.Email,
		CreatedAt:      e.CreatedAt,
		LastLogin:      e.LastLogin,
	}
	if len(e.ExtraData) > 0 {
		json.Unmarshal(e.ExtraData, &s.ExtraData)
	}
	return s
}

func SocialAccountToEntity(s *acc.SocialAccount) (*SocialAccountEntity, error) {
	e := &SocialAccountEntity{
		LinkID:         s.ID,
		Provider:       s.Provider,
		ProviderUserID: s.ProviderUserID,
		AccountID:      s.AccountID,
		Email:          s.Email,
		CreatedAt:      s.CreatedAt,
		LastLogin:      s.LastLogin,
	}
	if s.ExtraData != nil {
		b, err := json.Marshal(s.ExtraData)
		if err != nil {
			return nil, err
		}
		e.ExtraData = b
	}
	return e, nil
}
