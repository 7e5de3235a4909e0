//go:build !wasm
// +build !wasm

package gae_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acc "github.com/panyam/accounts"
	"github.com/panyam/accounts/stores/gae"
)

// newStores connects to the Datastore emulator. Each test gets its own
// namespace so runs do not see each other's entities.
func newStores(t *testing.T) acc.Stores {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	project := os.Getenv("DATASTORE_PROJECT_ID")
	if project == "" {
		project = "accounts-test"
	}
	client, err := datastore.NewClient(context.Background(), project)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return gae.NewStores(client, "t"+uuid.NewString()[:8])
}

func newAccount(username string) *acc.Account {
	return &acc.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash-" + username,
		DateJoined:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestAccountStore_Uniqueness(t *testing.T) {
	stores := newStores(t)
	ctx := context.Background()
	ada := newAccount("ada")
	require.NoError(t, stores.Accounts.CreateAccount(ctx, ada))

	got, err := stores.Accounts.GetAccountByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, ada.ID, got.ID)
	assert.Nil(t, got.LastLogin)

	clash := newAccount("ada")
	clash.Email = "other@example.com"
	assert.ErrorIs(t, stores.Accounts.CreateAccount(ctx, clash), acc.ErrConflict)

	ok, err := stores.Accounts.EmailExists(ctx, "other@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "a failed create leaves no email marker")

	_, err = stores.Accounts.GetAccountByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, acc.ErrRecordNotFound)
}

func TestAccountStore_ActivateOnce(t *testing.T) {
	stores := newStores(t)
	ctx := context.Background()
	ada := newAccount("ada")
	require.NoError(t, stores.Accounts.CreateAccount(ctx, ada))

	profile := &acc.Profile{AccountID: ada.ID, FirstName: "Ada"}
	require.NoError(t, stores.Accounts.ActivateAccount(ctx, ada.ID, profile))
	assert.NotZero(t, profile.ID)

	err := stores.Accounts.ActivateAccount(ctx, ada.ID, &acc.Profile{AccountID: ada.ID})
	assert.ErrorIs(t, err, acc.ErrStaleState)

	got, err := stores.Profiles.GetProfileByAccount(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, got.ID)
	assert.Equal(t, "Ada", got.FirstName)
}

func TestAccountStore_PasswordAndLastLogin(t *testing.T) {
	stores := newStores(t)
	ctx := context.Background()
	ada := newAccount("ada")
	require.NoError(t, stores.Accounts.CreateAccount(ctx, ada))

	assert.ErrorIs(t, stores.Accounts.SetPasswordHash(ctx, ada.ID, "wrong", "new"), acc.ErrStaleState)
	require.NoError(t, stores.Accounts.SetPasswordHash(ctx, ada.ID, ada.PasswordHash, "new"))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, stores.Accounts.TouchLastLogin(ctx, ada.ID, at))

	got, err := stores.Accounts.GetAccountByID(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)
	require.NotNil(t, got.LastLogin)
	assert.True(t, at.Equal(*got.LastLogin))
}

func TestAccountStore_Provision(t *testing.T) {
	stores := newStores(t)
	ctx := context.Background()
	ada := newAccount("ada")
	ada.IsActive = true
	link := &acc.SocialAccount{Provider: "google", ProviderUserID: "g-1", AccountID: ada.ID, Email: ada.Email}
	require.NoError(t, stores.Accounts.ProvisionAccount(ctx, ada, &acc.Profile{AccountID: ada.ID}, link))
	assert.NotZero(t, link.ID)

	got, err := stores.SocialAccounts.GetSocialAccount(ctx, "google", "g-1")
	require.NoError(t, err)
	assert.Equal(t, ada.ID, got.AccountID)

	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, stores.SocialAccounts.TouchSocialLogin(ctx, link.ID, at))

	bob := newAccount("bob")
	again := &acc.SocialAccount{Provider: "google", ProviderUserID: "g-1", AccountID: bob.ID}
	err = stores.Accounts.ProvisionAccount(ctx, bob, &acc.Profile{AccountID: bob.ID}, again)
	assert.ErrorIs(t, err, acc.ErrConflict)

	_, err = stores.Accounts.GetAccountByID(ctx, bob.ID)
	assert.ErrorIs(t, err, acc.ErrRecordNotFound, "the failed provisioning wrote nothing")
}

func TestSessionTokenStore(t *testing.T) {
	stores := newStores(t)
	ctx := context.Background()

	tok, created, err := stores.SessionTokens.GetOrCreateSessionToken(ctx, "a1", "key-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := stores.SessionTokens.GetOrCreateSessionToken(ctx, "a1", "key-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tok.Key, again.Key)
}
