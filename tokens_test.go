package accounts_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acc "github.com/panyam/accounts"
)

func newTokens(now *time.Time) *acc.ActionTokens {
	t := acc.NewActionTokens("secret", 72*time.Hour, 24*time.Hour)
	t.Now = func() time.Time { return *now }
	return t
}

func sampleAccount() *acc.Account {
	return &acc.Account{
		ID:           "6f1c0b8e-2a53-4b8f-9d7e-6b1f9a0c1d2e",
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "$2a$04$abcdefghijklmnopqrstuv",
		IsActive:     false,
	}
}

func TestActionTokens_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)
	a := sampleAccount()

	tok, err := tokens.Issue(a, acc.PurposeActivate)
	require.NoError(t, err)
	assert.Equal(t, acc.EncodeUID(a.ID), tok.UID)
	assert.NotContains(t, tok.UID, "=")
	assert.Contains(t, tok.Token, "-")

	id, err := acc.DecodeUID(tok.UID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	assert.NoError(t, tokens.Check(a, acc.PurposeActivate, tok.Token))
}

func TestActionTokens_InvalidatedByAccountChanges(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)

	mutations := map[string]func(a *acc.Account){
		"password":   func(a *acc.Account) { a.PasswordHash = "other" },
		"activation": func(a *acc.Account) { a.IsActive = true },
		"email":      func(a *acc.Account) { a.Email = "new@example.com" },
		"last login": func(a *acc.Account) { ll := now; a.LastLogin = &ll },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			a := sampleAccount()
			tok, err := tokens.Issue(a, acc.PurposeReset)
			require.NoError(t, err)
			mutate(a)
			assert.ErrorIs(t, tokens.Check(a, acc.PurposeReset, tok.Token), acc.ErrInvalidToken)
		})
	}
}

func TestActionTokens_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)
	a := sampleAccount()

	activate, _ := tokens.Issue(a, acc.PurposeActivate)
	reset, _ := tokens.Issue(a, acc.PurposeReset)

	now = now.Add(24*time.Hour + time.Second)
	assert.NoError(t, tokens.Check(a, acc.PurposeActivate, activate.Token))
	assert.ErrorIs(t, tokens.Check(a, acc.PurposeReset, reset.Token), acc.ErrInvalidToken)

	now = now.Add(48 * time.Hour)
	assert.ErrorIs(t, tokens.Check(a, acc.PurposeActivate, activate.Token), acc.ErrInvalidToken)
}

func TestActionTokens_RejectsFutureTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)
	a := sampleAccount()

	now = now.Add(time.Hour)
	future, _ := tokens.Issue(a, acc.PurposeActivate)
	now = now.Add(-time.Hour)
	assert.ErrorIs(t, tokens.Check(a, acc.PurposeActivate, future.Token), acc.ErrInvalidToken)

	// small skew is tolerated
	now = now.Add(30 * time.Second)
	skewed, _ := tokens.Issue(a, acc.PurposeActivate)
	now = now.Add(-30 * time.Second)
	assert.NoError(t, tokens.Check(a, acc.PurposeActivate, skewed.Token))
}

func TestActionTokens_PurposesAreSeparate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)
	a := sampleAccount()

	tok, _ := tokens.Issue(a, acc.PurposeActivate)
	assert.ErrorIs(t, tokens.Check(a, acc.PurposeReset, tok.Token), acc.ErrInvalidToken)

	_, err := tokens.Issue(a, acc.Purpose("unknown"))
	assert.Error(t, err)
}

func TestActionTokens_Malformed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := newTokens(&now)
	a := sampleAccount()
	good, _ := tokens.Issue(a, acc.PurposeActivate)
	ts, sig, _ := strings.Cut(good.Token, "-")

	for _, bad := range []string{"", "-", "nodash", ts + "-", "-" + sig, "zz!-" + sig, ts + "-" + sig + "x"} {
		assert.ErrorIs(t, tokens.Check(a, acc.PurposeActivate, bad), acc.ErrInvalidToken, "token %q", bad)
	}
	other := acc.NewActionTokens("other-secret", time.Hour, time.Hour)
	other.Now = tokens.Now
	assert.ErrorIs(t, other.Check(a, acc.PurposeActivate, good.Token), acc.ErrInvalidToken)
}

func TestActionTokens_Resolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid, token := env.register(t, "ada", "ada@example.com", "pw-123456")

	account, err := env.Auth.Tokens.Resolve(ctx, env.Stores.Accounts, uid, token, acc.PurposeActivate)
	require.NoError(t, err)
	assert.Equal(t, "ada", account.Username)

	for name, args := range map[string][2]string{
		"garbage uid":     {"%%%", token},
		"unknown account": {acc.EncodeUID("missing"), token},
		"empty uid":       {"", token},
		"bad token":       {uid, "abc-def"},
	} {
		_, err := env.Auth.Tokens.Resolve(ctx, env.Stores.Accounts, args[0], args[1], acc.PurposeActivate)
		assert.ErrorIs(t, err, acc.ErrInvalidToken, name)
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := acc.GenerateSecureToken(20)
	require.NoError(t, err)
	b, _ := acc.GenerateSecureToken(20)
	assert.Len(t, a, 40)
	assert.NotEqual(t, a, b)
}
