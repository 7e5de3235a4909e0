package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acc "github.com/panyam/accounts"
)

func strPtr(s string) *string { return &s }

func TestProfiles_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.activeAccount(t, "ada", "ada@example.com", "pw-123456")
	bob := env.activeAccount(t, "bob", "bob@example.com", "pw-123456")

	all, err := env.Profiles.List(ctx, ada, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[0].Username, "newest first")
	assert.Equal(t, "ada", all[1].Username)
	assert.True(t, all[0].IsActive)

	mine, err := env.Profiles.List(ctx, ada, true)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ada.ID, mine[0].AccountID)

	got, err := env.Profiles.Get(ctx, ada, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.AccountID)

	_, err = env.Profiles.Get(ctx, ada, 9999)
	assert.ErrorIs(t, err, acc.ErrProfileNotFound)
}

func TestProfiles_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.activeAccount(t, "ada", "ada@example.com", "pw-123456")

	_, err := env.Profiles.Create(ctx, ada, acc.ProfileUpdate{FirstName: strPtr("Ada")})
	assert.ErrorIs(t, err, acc.ErrProfileExists, "activation already made one")

	// accounts created outside activation can make their own
	orphan := &acc.Account{ID: "orphan-1", Username: "orphan", Email: "orphan@example.com", PasswordHash: "!x", IsActive: true, DateJoined: env.Clock.Now()}
	require.NoError(t, env.Stores.Accounts.CreateAccount(ctx, orphan))

	view, err := env.Profiles.Create(ctx, orphan, acc.ProfileUpdate{
		FirstName:  strPtr(" Orph "),
		MiddleName: strPtr("A"),
		Attributes: &map[string]any{"team": "blue"},
	})
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
	assert.Equal(t, "Orph", view.FirstName)
	assert.Equal(t, "orphan@example.com", view.Email)
	assert.Equal(t, "orphan", view.Username)

	stored, err := env.Stores.Profiles.GetProfile(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "blue", stored.Attributes["team"])

	_, err = env.Profiles.Create(ctx, orphan, acc.ProfileUpdate{})
	assert.ErrorIs(t, err, acc.ErrProfileExists)
}

func TestProfiles_Update(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.activeAccount(t, "ada", "ada@example.com", "pw-123456")
	mine, err := env.Profiles.List(ctx, ada, true)
	require.NoError(t, err)
	id := mine[0].ID

	view, err := env.Profiles.Update(ctx, ada, id, acc.ProfileUpdate{LastName: strPtr("Byron")})
	require.NoError(t, err)
	assert.Equal(t, "Byron", view.LastName)
	assert.Equal(t, "Ada", view.FirstName, "absent fields are untouched")

	_, err = env.Profiles.Update(ctx, ada, id, acc.ProfileUpdate{Email: strPtr("nope")})
	assert.Equal(t, acc.KindValidation, acc.KindOf(err))

	_, err = env.Profiles.Update(ctx, ada, 4242, acc.ProfileUpdate{})
	assert.ErrorIs(t, err, acc.ErrProfileNotFound)

	stored, err := env.Stores.Profiles.GetProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Byron", stored.LastName)
}

func TestProfiles_OwnerOnly(t *testing.T) {
	env := newTestEnv(t, func(c *acc.Config) { c.ProfileOwnerOnly = true })
	ctx := context.Background()
	ada := env.activeAccount(t, "ada", "ada@example.com", "pw-123456")
	bob := env.activeAccount(t, "bob", "bob@example.com", "pw-123456")

	all, err := env.Profiles.List(ctx, ada, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ada.ID, all[0].AccountID)

	bobs, err := env.Profiles.List(ctx, bob, true)
	require.NoError(t, err)
	bobID := bobs[0].ID

	_, err = env.Profiles.Get(ctx, ada, bobID)
	assert.ErrorIs(t, err, acc.ErrProfileNotFound)
	_, err = env.Profiles.Update(ctx, ada, bobID, acc.ProfileUpdate{FirstName: strPtr("Mallory")})
	assert.ErrorIs(t, err, acc.ErrForbidden)
}
