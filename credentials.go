package accounts

import (
	"context"
	"errors"
)

// CredentialResolver maps an identifier and secret to an account. The
// identifier is tried as a username first and as an email second.
type CredentialResolver struct {
	Accounts AccountStore
	Hasher   PasswordHasher
}

// Lookup finds the account an identifier names without checking a secret.
func (r *CredentialResolver) Lookup(ctx context.Context, identifier string) (*Account, error) {
	account, err := r.Accounts.GetAccountByUsername(ctx, identifier)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, internalError("looking up username", err)
	}
	account, err = r.Accounts.GetAccountByEmail(ctx, identifier)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	return nil, internalError("looking up email", err)
}

// Resolve returns the account when secret matches its password. The active
// flag is not consulted; callers decide what an inactive account means.
func (r *CredentialResolver) Resolve(ctx context.Context, identifier, secret string) (*Account, error) {
	account, err := r.Lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !r.Hasher.Compare(account.PasswordHash, secret) {
		return nil, ErrBadCredential
	}
	return account, nil
}
