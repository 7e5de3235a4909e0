//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	acc "github.com/panyam/accounts"
)

// AutoMigrate creates or updates the account tables from the models.
// Production deployments use Migrate instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&ProfileModel{},
		&SessionTokenModel{},
		&SocialAccountModel{},
	)
}

// NewStores returns every account store backed by db
func NewStores(db *gorm.DB) acc.Stores {
	return acc.Stores{
		Accounts:       NewAccountStore(db),
		Profiles:       NewProfileStore(db),
		SessionTokens:  NewSessionTokenStore(db),
		SocialAccounts: NewSocialAccountStore(db),
	}
}

// translate maps driver errors onto the store errors of the accounts package.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return acc.ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return acc.ErrConflict
	}
	// drivers opened without TranslateError
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return acc.ErrConflict
	}
	return err
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements acc.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *acc.Account) error {
	return translate(s.db.WithContext(ctx).Create(AccountToModel(account)).Error)
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*acc.Account, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *AccountStore) GetAccountByUsername(ctx context.Context, username string) (*acc.Account, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*acc.Account, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *AccountStore) first(ctx context.Context, query string, arg any) (*acc.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, "username = ?", username)
}

func (s *AccountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email = ?", email)
}

func (s *AccountStore) exists(ctx context.Context, query string, arg any) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&AccountModel{}).Where(query, arg).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *AccountStore) ActivateAccount(ctx context.Context, id string, profile *acc.Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AccountModel{}).
			Where("id = ? AND is_active = ?", id, false).
			Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return acc.ErrStaleState
		}
		model := ProfileToModel(profile)
		if err := tx.Create(model).Error; err != nil {
			return translate(err)
		}
		profile.ID = model.ID
		profile.CreatedAt = model.CreatedAt
		profile.UpdatedAt = model.UpdatedAt
		return nil
	})
}

func (s *AccountStore) ProvisionAccount(ctx context.Context, account *acc.Account, profile *acc.Profile, link *acc.SocialAccount) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(AccountToModel(account)).Error; err != nil {
			return translate(err)
		}
		pm := ProfileToModel(profile)
		if err := tx.Create(pm).Error; err != nil {
			return translate(err)
		}
		lm := SocialAccountToModel(link)
		if err := tx.Create(lm).Error; err != nil {
			return translate(err)
		}
		profile.ID = pm.ID
		link.ID = lm.ID
		return nil
	})
}

func (s *AccountStore) SetPasswordHash(ctx context.Context, id, currentHash, newHash string) error {
	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ? AND password_hash = ?", id, currentHash).
		Update("password_hash", newHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return acc.ErrStaleState
	}
	return nil
}

func (s *AccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}

// =============================================================================
// ProfileStore
// =============================================================================

// ProfileStore implements acc.ProfileStore using GORM
type ProfileStore struct {
	db *gorm.DB
}

func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) CreateProfile(ctx context.Context, profile *acc.Profile) error {
	model := ProfileToModel(profile)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return translate(err)
	}
	profile.ID = model.ID
	profile.CreatedAt = model.CreatedAt
	profile.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *ProfileStore) GetProfile(ctx context.Context, id int64) (*acc.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToProfile(), nil
}

func (s *ProfileStore) GetProfileByAccount(ctx context.Context, accountID string) (*acc.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "account_id = ?", accountID).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToProfile(), nil
}

func (s *ProfileStore) ListProfiles(ctx context.Context, filter acc.ProfileFilter) ([]*acc.Profile, error) {
	var models []ProfileModel
	q := s.db.WithContext(ctx).Order("id DESC")
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*acc.Profile, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToProfile())
	}
	return out, nil
}

func (s *ProfileStore) SaveProfile(ctx context.Context, profile *acc.Profile) error {
	return translate(s.db.WithContext(ctx).Save(ProfileToModel(profile)).Error)
}

// =============================================================================
// SessionTokenStore
// =============================================================================

// SessionTokenStore implements acc.SessionTokenStore using GORM
type SessionTokenStore struct {
	db *gorm.DB
}

func NewSessionTokenStore(db *gorm.DB) *SessionTokenStore {
	return &SessionTokenStore{db: db}
}

func (s *SessionTokenStore) GetOrCreateSessionToken(ctx context.Context, accountID string, newKey string) (*acc.SessionToken, bool, error) {
	db := s.db.WithContext(ctx)
	var model SessionTokenModel
	err := db.First(&model, "account_id = ?", accountID).Error
	if err == nil {
		return model.ToSessionToken(), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	model = SessionTokenModel{Key: newKey, AccountID: accountID}
	if err := db.Create(&model).Error; err != nil {
		if !errors.Is(translate(err), acc.ErrConflict) {
			return nil, false, err
		}
		// another sign-in created it first
		var existing SessionTokenModel
		if err := db.First(&existing, "account_id = ?", accountID).Error; err != nil {
			return nil, false, translate(err)
		}
		return existing.ToSessionToken(), false, nil
	}
	return model.ToSessionToken(), true, nil
}

func (s *SessionTokenStore) GetSessionToken(ctx context.Context, key string) (*acc.SessionToken, error) {
	var model SessionTokenModel
	if err := s.db.WithContext(ctx).First(&model, "token_key = ?", key).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToSessionToken(), nil
}

// =============================================================================
// SocialAccountStore
// =============================================================================

// SocialAccountStore implements acc.SocialAccountStore using GORM
type SocialAccountStore struct {
	db *gorm.DB
}

func NewSocialAccountStore(db *gorm.DB) *SocialAccountStore {
	return &SocialAccountStore{db: db}
}

func (s *SocialAccountStore) GetSocialAccount(ctx context.Context, provider, providerUserID string) (*acc.SocialAccount, error) {
	var model SocialAccountModel
	err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND provider_user_id = ?", provider, providerUserID).Error
	if err != nil {
		return nil, translate(err)
	}
	return model.ToSocialAccount(), nil
}

func (s *SocialAccountStore) CreateSocialAccount(ctx context.Context, link *acc.SocialAccount) error {
	model := SocialAccountToModel(link)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return translate(err)
	}
	link.ID = model.ID
	return nil
}

func (s *SocialAccountStore) ListSocialAccounts(ctx context.Context, accountID string) ([]*acc.SocialAccount, error) {
	var models []SocialAccountModel
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*acc.SocialAccount, 0, len(models))
	for i := range models {
		out = append(out, models[i].ToSocialAccount())
	}
	return out, nil
}

func (s *SocialAccountStore) TouchSocialLogin(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&SocialAccountModel{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}
