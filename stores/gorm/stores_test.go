package gorm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	acc "github.com/panyam/accounts"
	gormstore "github.com/panyam/accounts/stores/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is a fresh database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, gormstore.AutoMigrate(db))
	return db
}

func newAccount(id, username, email string, active bool) *acc.Account {
	return &acc.Account{
		ID:           id,
		Username:     username,
		Email:        email,
		FirstName:    "Ada",
		PasswordHash: "hash-" + id,
		IsActive:     active,
		DateJoined:   time.Now().UTC(),
	}
}

func TestAccountStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))

	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", false)))

	byName, err := stores.Accounts.GetAccountByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a1", byName.ID)
	assert.False(t, byName.IsActive)

	byEmail, err := stores.Accounts.GetAccountByEmail(ctx, "alice@x.io")
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.Username)

	_, err = stores.Accounts.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, acc.ErrRecordNotFound)

	exists, err := stores.Accounts.EmailExists(ctx, "alice@x.io")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = stores.Accounts.UsernameExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAccountStore_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", false)))

	err := stores.Accounts.CreateAccount(ctx, newAccount("a2", "alice", "other@x.io", false))
	assert.ErrorIs(t, err, acc.ErrConflict)

	err = stores.Accounts.CreateAccount(ctx, newAccount("a3", "other", "alice@x.io", false))
	assert.ErrorIs(t, err, acc.ErrConflict)
}

func TestAccountStore_ActivateOnce(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", false)))

	profile := &acc.Profile{AccountID: "a1", FirstName: "Ada", Email: "alice@x.io"}
	require.NoError(t, stores.Accounts.ActivateAccount(ctx, "a1", profile))
	assert.NotZero(t, profile.ID)

	account, err := stores.Accounts.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, account.IsActive)

	err = stores.Accounts.ActivateAccount(ctx, "a1", &acc.Profile{AccountID: "a1"})
	assert.ErrorIs(t, err, acc.ErrStaleState)

	profiles, err := stores.Profiles.ListProfiles(ctx, acc.ProfileFilter{AccountID: "a1"})
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestAccountStore_SetPasswordHashCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))

	require.NoError(t, stores.Accounts.SetPasswordHash(ctx, "a1", "hash-a1", "new-hash"))
	err := stores.Accounts.SetPasswordHash(ctx, "a1", "hash-a1", "newer-hash")
	assert.ErrorIs(t, err, acc.ErrStaleState)

	account, err := stores.Accounts.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", account.PasswordHash)
}

func TestAccountStore_TouchLastLogin(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))

	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, stores.Accounts.TouchLastLogin(ctx, "a1", at))

	account, err := stores.Accounts.GetAccountByID(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, account.LastLogin)
	assert.Equal(t, at.Unix(), account.LastLogin.Unix())
}

func TestAccountStore_ProvisionAccount(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))

	account := newAccount("a1", "alice", "alice@x.io", true)
	profile := &acc.Profile{AccountID: "a1", Email: "alice@x.io"}
	link := &acc.SocialAccount{
		Provider:       "google",
		ProviderUserID: "g-1",
		AccountID:      "a1",
		Email:          "alice@x.io",
		ExtraData:      map[string]any{"picture": "p.png"},
		CreatedAt:      time.Now().UTC(),
		LastLogin:      time.Now().UTC(),
	}
	require.NoError(t, stores.Accounts.ProvisionAccount(ctx, account, profile, link))
	assert.NotZero(t, link.ID)

	got, err := stores.SocialAccounts.GetSocialAccount(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccountID)
	assert.Equal(t, "p.png", got.ExtraData["picture"])

	// a second provisioning with the same email rolls back entirely
	err = stores.Accounts.ProvisionAccount(ctx,
		newAccount("a2", "alice2", "alice@x.io", true),
		&acc.Profile{AccountID: "a2"},
		&acc.SocialAccount{Provider: "github", ProviderUserID: "gh-1", AccountID: "a2"})
	assert.ErrorIs(t, err, acc.ErrConflict)
	_, err = stores.SocialAccounts.GetSocialAccount(ctx, "github", "gh-1")
	assert.ErrorIs(t, err, acc.ErrRecordNotFound)
}

func TestProfileStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount(id, "user-"+id, id+"@x.io", true)))
		require.NoError(t, stores.Profiles.CreateProfile(ctx, &acc.Profile{AccountID: id, Email: id + "@x.io"}))
	}

	all, err := stores.Profiles.ListProfiles(ctx, acc.ProfileFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a3", all[0].AccountID)
	assert.Equal(t, "a1", all[2].AccountID)

	err = stores.Profiles.CreateProfile(ctx, &acc.Profile{AccountID: "a1"})
	assert.ErrorIs(t, err, acc.ErrConflict)
}

func TestProfileStore_SaveKeepsAttributes(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))
	p := &acc.Profile{AccountID: "a1"}
	require.NoError(t, stores.Profiles.CreateProfile(ctx, p))

	p.MiddleName = "Q"
	p.Attributes = map[string]any{"theme": "dark"}
	require.NoError(t, stores.Profiles.SaveProfile(ctx, p))

	got, err := stores.Profiles.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Q", got.MiddleName)
	assert.Equal(t, "dark", got.Attributes["theme"])

	_, err = stores.Profiles.GetProfile(ctx, p.ID+100)
	assert.ErrorIs(t, err, acc.ErrRecordNotFound)
}

func TestSessionTokenStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))

	first, created, err := stores.SessionTokens.GetOrCreateSessionToken(ctx, "a1", "key-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "key-1", first.Key)

	second, created, err := stores.SessionTokens.GetOrCreateSessionToken(ctx, "a1", "key-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "key-1", second.Key)

	got, err := stores.SessionTokens.GetSessionToken(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccountID)

	_, err = stores.SessionTokens.GetSessionToken(ctx, "key-2")
	assert.ErrorIs(t, err, acc.ErrRecordNotFound)
}

func TestSessionTokenStore_ConcurrentCallersShareToken(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))

	const n = 8
	keys := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, _, err := stores.SessionTokens.GetOrCreateSessionToken(ctx, "a1", "key-"+string(rune('a'+i)))
			if assert.NoError(t, err) {
				keys[i] = tok.Key
			}
		}(i)
	}
	wg.Wait()
	for _, k := range keys {
		assert.Equal(t, keys[0], k)
	}
}

func TestSocialAccountStore(t *testing.T) {
	ctx := context.Background()
	stores := gormstore.NewStores(newTestDB(t))
	require.NoError(t, stores.Accounts.CreateAccount(ctx, newAccount("a1", "alice", "alice@x.io", true)))

	link := &acc.SocialAccount{Provider: "github", ProviderUserID: "42", AccountID: "a1", Email: "alice@x.io"}
	require.NoError(t, stores.SocialAccounts.CreateSocialAccount(ctx, link))
	err := stores.SocialAccounts.CreateSocialAccount(ctx, &acc.SocialAccount{Provider: "github", ProviderUserID: "42", AccountID: "a1"})
	assert.ErrorIs(t, err, acc.ErrConflict)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, stores.SocialAccounts.TouchSocialLogin(ctx, link.ID, at))

	links, err := stores.SocialAccounts.ListSocialAccounts(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, at.Unix(), links[0].LastLogin.Unix())
}
