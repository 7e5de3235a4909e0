//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	acc "github.com/panyam/accounts"
)

// Kind constants for Datastore entities
const (
	KindAccount        = "Account"
	KindUsername       = "Username"
	KindEmail          = "Email"
	KindProfile        = "Profile"
	KindAccountProfile = "AccountProfile"
	KindSessionToken   = "SessionToken"
	KindSocialAccount  = "SocialAccount"
)

// NewStores returns every account store backed by client in namespace.
func NewStores(client *datastore.Client, namespace string) acc.Stores {
	b := base{client: client, namespace: namespace}
	return acc.Stores{
		Accounts:       &AccountStore{b},
		Profiles:       &ProfileStore{b},
		SessionTokens:  &SessionTokenStore{b},
		SocialAccounts: &SocialAccountStore{b},
	}
}

type base struct {
	client    *datastore.Client
	namespace string
}

func (b base) nameKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) idKey(kind string, id int64) *datastore.Key {
	key := datastore.IDKey(kind, id, nil)
	key.Namespace = b.namespace
	return key
}

func (b base) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if b.namespace != "" {
		q = q.Namespace(b.namespace)
	}
	return q
}

// allocateID reserves a numeric id outside any transaction.
func (b base) allocateID(ctx context.Context, kind string) (int64, error) {
	key := datastore.IncompleteKey(kind, nil)
	key.Namespace = b.namespace
	keys, err := b.client.AllocateIDs(ctx, []*datastore.Key{key})
	if err != nil {
		return 0, err
	}
	return keys[0].ID, nil
}

// reserve claims a marker for accountID, failing with acc.ErrConflict when
// it is already held.
func (b base) reserve(tx *datastore.Transaction, key *datastore.Key, marker *MarkerEntity) error {
	var existing MarkerEntity
	err := tx.Get(key, &existing)
	if err == nil {
		return acc.ErrConflict
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, marker)
	return err
}

func notFound(err error) error {
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return acc.ErrRecordNotFound
	}
	return err
}

// ============================================================================
// AccountStore
// ============================================================================

// AccountStore implements acc.AccountStore using Google Cloud Datastore
type AccountStore struct {
	base
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *acc.Account) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return s.createIn(tx, account)
	})
	return err
}

func (s *AccountStore) createIn(tx *datastore.Transaction, account *acc.Account) error {
	key := s.nameKey(KindAccount, account.ID)
	var existing AccountEntity
	if err := tx.Get(key, &existing); err == nil {
		return acc.ErrConflict
	} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	marker := &MarkerEntity{AccountID: account.ID}
	if err := s.reserve(tx, s.nameKey(KindUsername, account.Username), marker); err != nil {
		return err
	}
	if err := s.reserve(tx, s.nameKey(KindEmail, account.Email), marker); err != nil {
		return err
	}
	_, err := tx.Put(key, AccountToEntity(account, key))
	return err
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*acc.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.nameKey(KindAccount, id), &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToAccount(), nil
}

func (s *AccountStore) GetAccountByUsername(ctx context.Context, username string) (*acc.Account, error) {
	return s.byMarker(ctx, KindUsername, username)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*acc.Account, error) {
	return s.byMarker(ctx, KindEmail, email)
}

func (s *AccountStore) byMarker(ctx context.Context, kind, value string) (*acc.Account, error) {
	var marker MarkerEntity
	if err := s.client.Get(ctx, s.nameKey(kind, value), &marker); err != nil {
		return nil, notFound(err)
	}
	return s.GetAccountByID(ctx, marker.AccountID)
}

func (s *AccountStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.markerExists(ctx, KindUsername, username)
}

func (s *AccountStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.markerExists(ctx, KindEmail, email)
}

func (s *AccountStore) markerExists(ctx context.Context, kind, value string) (bool, error) {
	var marker MarkerEntity
	err := s.client.Get(ctx, s.nameKey(kind, value), &marker)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	return err == nil, err
}

func (s *AccountStore) ActivateAccount(ctx context.Context, id string, profile *acc.Profile) error {
	profileID, err := s.allocateID(ctx, KindProfile)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		key := s.nameKey(KindAccount, id)
		var entity AccountEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return acc.ErrStaleState
			}
			return err
		}
		if entity.IsActive {
			return acc.ErrStaleState
		}
		entity.IsActive = true
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		return (&ProfileStore{s.base}).createIn(tx, profile, profileID)
	})
	if err != nil {
		return err
	}
	profile.ID = profileID
	return nil
}

func (s *AccountStore) ProvisionAccount(ctx context.Context, account *acc.Account, profile *acc.Profile, link *acc.SocialAccount) error {
	profileID, err := s.allocateID(ctx, KindProfile)
	if err != nil {
		return err
	}
	linkID, err := s.allocateID(ctx, KindSocialAccount)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := s.createIn(tx, account); err != nil {
			return err
		}
		if err := (&ProfileStore{s.base}).createIn(tx, profile, profileID); err != nil {
			return err
		}
		return (&SocialAccountStore{s.base}).createIn(tx, link, linkID)
	})
	if err != nil {
		return err
	}
	profile.ID, link.ID = profileID, linkID
	return nil
}

func (s *AccountStore) SetPasswordHash(ctx context.Context, id, currentHash, newHash string) error {
	return s.update(ctx, id, func(e *AccountEntity) error {
		if e.PasswordHash != currentHash {
			return acc.ErrStaleState
		}
		e.PasswordHash = newHash
		return nil
	})
}

func (s *AccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, func(e *AccountEntity) error {
		e.LastLogin = at
		return nil
	})
}

func (s *AccountStore) update(ctx context.Context, id string, change func(*AccountEntity) error) error {
	key := s.nameKey(KindAccount, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return acc.ErrStaleState
			}
			return err
		}
		if err := change(&entity); err != nil {
			return err
		}
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// ============================================================================
// ProfileStore
// ============================================================================

// ProfileStore implements acc.ProfileStore using Google Cloud Datastore
type ProfileStore struct {
	base
}

func (s *ProfileStore) CreateProfile(ctx context.Context, profile *acc.Profile) error {
	id, err := s.allocateID(ctx, KindProfile)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return s.createIn(tx, profile, id)
	})
	if err != nil {
		return err
	}
	profile.ID = id
	return nil
}

// createIn writes the profile under id, holding the account's profile slot.
func (s *ProfileStore) createIn(tx *datastore.Transaction, profile *acc.Profile, id int64) error {
	marker := &MarkerEntity{AccountID: profile.AccountID, ProfileID: id}
	if err := s.reserve(tx, s.nameKey(KindAccountProfile, profile.AccountID), marker); err != nil {
		return err
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	stored := *profile
	stored.ID = id
	key := s.idKey(KindProfile, id)
	entity, err := ProfileToEntity(&stored, key)
	if err != nil {
		return err
	}
	_, err = tx.Put(key, entity)
	return err
}

func (s *ProfileStore) GetProfile(ctx context.Context, id int64) (*acc.Profile, error) {
	var entity ProfileEntity
	if err := s.client.Get(ctx, s.idKey(KindProfile, id), &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToProfile(), nil
}

func (s *ProfileStore) GetProfileByAccount(ctx context.Context, accountID string) (*acc.Profile, error) {
	var marker MarkerEntity
	if err := s.client.Get(ctx, s.nameKey(KindAccountProfile, accountID), &marker); err != nil {
		return nil, notFound(err)
	}
	return s.GetProfile(ctx, marker.ProfileID)
}

func (s *ProfileStore) ListProfiles(ctx context.Context, filter acc.ProfileFilter) ([]*acc.Profile, error) {
	if filter.AccountID != "" {
		p, err := s.GetProfileByAccount(ctx, filter.AccountID)
		if errors.Is(err, acc.ErrRecordNotFound) {
			return []*acc.Profile{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []*acc.Profile{p}, nil
	}

	profiles := []*acc.Profile{}
	it := s.client.Run(ctx, s.query(KindProfile).Order("-profile_id"))
	for {
		var entity ProfileEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, entity.ToProfile())
	}
	return profiles, nil
}

func (s *ProfileStore) SaveProfile(ctx context.Context, profile *acc.Profile) error {
	key := s.idKey(KindProfile, profile.ID)
	entity, err := ProfileToEntity(profile, key)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, key, entity)
	return err
}

// ============================================================================
// SessionTokenStore
// ============================================================================

// SessionTokenStore implements acc.SessionTokenStore using Google Cloud Datastore
type SessionTokenStore struct {
	base
}

func (s *SessionTokenStore) GetOrCreateSessionToken(ctx context.Context, accountID string, newKey string) (*acc.SessionToken, bool, error) {
	key := s.nameKey(KindSessionToken, accountID)
	var entity SessionTokenEntity
	var created bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		created = false
		err := tx.Get(key, &entity)
		if err == nil {
			return nil
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		entity = SessionTokenEntity{TokenKey: newKey, AccountID: accountID, CreatedAt: time.Now().UTC()}
		created = true
		_, err = tx.Put(key, &entity)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entity.ToSessionToken(), created, nil
}

func (s *SessionTokenStore) GetSessionToken(ctx context.Context, tokenKey string) (*acc.SessionToken, error) {
	var entities []SessionTokenEntity
	q := s.query(KindSessionToken).FilterField("token_key", "=", tokenKey).Limit(1)
	if _, err := s.client.GetAll(ctx, q, &entities); err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, acc.ErrRecordNotFound
	}
	return entities[0].ToSessionToken(), nil
}

// ============================================================================
// SocialAccountStore
// ============================================================================

// SocialAccountStore implements acc.SocialAccountStore using Google Cloud Datastore
type SocialAccountStore struct {
	base
}

func (s *SocialAccountStore) linkKey(provider, providerUserID string) *datastore.Key {
	return s.nameKey(KindSocialAccount, provider+":"+providerUserID)
}

func (s *SocialAccountStore) GetSocialAccount(ctx context.Context, provider, providerUserID string) (*acc.SocialAccount, error) {
	var entity SocialAccountEntity
	if err := s.client.Get(ctx, s.linkKey(provider, providerUserID), &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToSocialAccount(), nil
}

func (s *SocialAccountStore) CreateSocialAccount(ctx context.Context, link *acc.SocialAccount) error {
	id, err := s.allocateID(ctx, KindSocialAccount)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		return s.createIn(tx, link, id)
	})
	if err != nil {
		return err
	}
	link.ID = id
	return nil
}

func (s *SocialAccountStore) createIn(tx *datastore.Transaction, link *acc.SocialAccount, id int64) error {
	key := s.linkKey(link.Provider, link.ProviderUserID)
	var existing SocialAccountEntity
	if err := tx.Get(key, &existing); err == nil {
		return acc.ErrConflict
	} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	stored := *link
	stored.ID = id
	entity, err := SocialAccountToEntity(&stored)
	if err != nil {
		return err
	}
	_, err = tx.Put(key, entity)
	return err
}

func (s *SocialAccountStore) ListSocialAccounts(ctx context.Context, accountID string) ([]*acc.SocialAccount, error) {
	var entities []SocialAccountEntity
	q := s.query(KindSocialAccount).FilterField("account_id", "=", accountID)
	if _, err := s.client.GetAll(ctx, q, &entities); err != nil {
		return nil, err
	}
	out := make([]*acc.SocialAccount, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].ToSocialAccount())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SocialAccountStore) TouchSocialLogin(ctx context.Context, id int64, at time.Time) error {
	q := s.query(KindSocialAccount).FilterField("link_id", "=", id).KeysOnly().Limit(1)
	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return acc.ErrRecordNotFound
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity SocialAccountEntity
		if err := tx.Get(keys[0], &entity); err != nil {
			return notFound(err)
		}
		entity.LastLogin = at
		_, err := tx.Put(keys[0], &entity)
		return err
	})
	return err
}
