//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	acc "github.com/panyam/accounts"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	return json.Unmarshal(bytes, m)
}

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:150;uniqueIndex;not null"`
	Email        string `gorm:"size:254;uniqueIndex;not null"`
	FirstName    string `gorm:"size:150"`
	LastName     string `gorm:"size:150"`
	PasswordHash string `gorm:"size:255;not null"`
	IsActive     bool   `gorm:"not null;default:false"`
	LastLogin    *time.Time
	DateJoined   time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *acc.Account {
	return &acc.Account{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		LastLogin:    m.LastLogin,
		DateJoined:   m.DateJoined,
	}
}

func AccountToModel(a *acc.Account) *AccountModel {
	return &AccountModel{
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

// ProfileModel is the GORM model for profiles
type ProfileModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	AccountID  string    `gorm:"size:64;uniqueIndex;not null"`
	FirstName  string    `gorm:"size:150"`
	MiddleName string    `gorm:"size:150"`
	LastName   string    `gorm:"size:150"`
	Email      string    `gorm:"size:254"`
	Attributes JSONMap   `gorm:"type:jsonb"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (ProfileModel) TableName() string {
	return "profiles"
}

func (m *ProfileModel) ToProfile() *acc.Profile {
	return &acc.Profile{
		ID:         m.ID,
		AccountID:  m.AccountID,
		FirstName:  m.FirstName,
		MiddleName: m.MiddleName,
		LastName:   m.LastName,
		Email:      m.Email,
		Attributes: m.Attributes,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func ProfileToModel(p *acc.Profile) *ProfileModel {
	return &ProfileModel{
		ID:         p.ID,
		AccountID:  p.AccountID,
		FirstName:  p.FirstName,
		MiddleName: p.MiddleName,
		LastName:   p.LastName,
		Email:      p.Email,
		Attributes: JSONMap(p.Attributes),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// SessionTokenModel is the GORM model for session tokens
type SessionTokenModel struct {
	Key       string    `gorm:"column:token_key;primaryKey;size:40"`
	AccountID string    `gorm:"size:64;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (SessionTokenModel) TableName() string {
	return "session_tokens"
}

func (m *SessionTokenModel) ToSessionToken() *acc.SessionToken {
	return &acc.SessionToken{
		Key:       m.Key,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
	}
}

// SocialAccountModel is the GORM model for provider links
type SocialAccountModel struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	Provider       string  `gorm:"size:32;uniqueIndex:idx_social_provider_uid;not null"`
	ProviderUserID string  `gorm:"size:191;uniqueIndex:idx_social_provider_uid;not null"`
	AccountID      string  `gorm:"size:64;index;not null"`
	Email          string  `gorm:"size:254"`
	ExtraData      JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
	LastLogin      time.Time
}

func (SocialAccountModel) TableName() string {
	return "social_accounts"
}

func (m *SocialAccountModel) ToSocialAccount() *acc.SocialAccount {
	return &acc.SocialAccount{
		ID:             m.ID,
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		AccountID:      m.AccountID,
		Email:          m.Email,
		ExtraData:      m.ExtraData,
		CreatedAt:      m.CreatedAt,
		LastLogin:      m.LastLogin,
	}
}

func SocialAccountToModel(s *acc.SocialAccount) *SocialAccountModel {
	return &SocialAccountModel{
		ID:             s.ID,
		Provider:       s.Provider,
		ProviderUserID: s.ProviderUserID,
		AccountID:      s.AccountID,
		Email:          s.Email,
		ExtraData:      JSONMap(s.ExtraData),
		CreatedAt:      s.CreatedAt,
		LastLogin:      s.LastLogin,
	}
}
