package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	msgPasswordChanged = "Password successfully updated."
	msgResetSent       = "We have sent a link to reset your password. Please check your email"
	msgResetUnknown    = "User does not exists with this email."
)

// ChangePassword replaces the password of a signed in account. The old
// password is checked before the new one is compared with its confirmation.
func (a *LocalAuth) ChangePassword(ctx context.Context, account *Account, oldPassword, newPassword, confirmPassword string) error {
	if !a.Hasher.Compare(account.PasswordHash, oldPassword) {
		return ErrWrongOldSecret
	}
	if newPassword != confirmPassword {
		return ErrMismatch
	}
	if err := a.checkNewPassword(newPassword); err != nil {
		return err
	}
	hash, err := a.Hasher.Hash(newPassword)
	if err != nil {
		return internalError("hashing password", err)
	}
	if err := a.Stores.Accounts.SetPasswordHash(ctx, account.ID, account.PasswordHash, hash); err != nil {
		if errors.Is(err, ErrStaleState) {
			// changed underneath us, the old password we checked is gone
			return ErrWrongOldSecret
		}
		return internalError("storing password", err)
	}
	account.PasswordHash = hash
	a.Logger.InfoContext(ctx, "password changed", "account_id", account.ID)
	return nil
}

// ResetRequest describes the outcome of RequestReset
type ResetRequest struct {
	Message string
	Sent    bool
}

// RequestReset mails a reset link to the account registered with email.
// Unknown addresses fail with ErrAccountNotFound unless ConcealUnknownEmail
// is set, in which case they get the same answer as known ones.
func (a *LocalAuth) RequestReset(ctx context.Context, email string) (*ResetRequest, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, NewAuthError(ErrCodeMissingField, "email is required", "email")
	}
	account, err := a.Stores.Accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return nil, internalError("looking up email", err)
		}
		if a.Config.ConcealUnknownEmail {
			return &ResetRequest{Message: msgResetSent}, nil
		}
		return nil, ErrAccountNotFound.WithMessage(msgResetUnknown)
	}

	tok, err := a.Tokens.Issue(account, PurposeReset)
	if err != nil {
		return nil, internalError("issuing reset token", err)
	}
	link := a.link("reset-password", tok)
	if err := a.EmailSender.SendPasswordResetEmail(ctx, account.Email, displayName(account), link); err != nil {
		a.Logger.ErrorContext(ctx, "sending reset email failed", "account_id", account.ID, "error", err)
		return nil, ErrMailFailed.Wrap(err)
	}
	return &ResetRequest{Message: msgResetSent, Sent: true}, nil
}

// CheckReset reports whether a reset link is still usable.
func (a *LocalAuth) CheckReset(ctx context.Context, uid, token string) error {
	_, err := a.Tokens.Resolve(ctx, a.Stores.Accounts, uid, token, PurposeReset)
	return err
}

// ConfirmReset sets a new password through a reset link. A mismatch leaves
// everything untouched and the link usable; success consumes the link.
func (a *LocalAuth) ConfirmReset(ctx context.Context, uid, token, newPassword, confirmPassword string) error {
	account, err := a.Tokens.Resolve(ctx, a.Stores.Accounts, uid, token, PurposeReset)
	if err != nil {
		return err
	}
	if newPassword != confirmPassword {
		return ErrMismatch
	}
	if err := a.checkNewPassword(newPassword); err != nil {
		return err
	}
	hash, err := a.Hasher.Hash(newPassword)
	if err != nil {
		return internalError("hashing password", err)
	}
	if err := a.Stores.Accounts.SetPasswordHash(ctx, account.ID, account.PasswordHash, hash); err != nil {
		if errors.Is(err, ErrStaleState) {
			return ErrInvalidToken
		}
		return internalError("storing password", err)
	}
	a.Logger.InfoContext(ctx, "password reset", "account_id", account.ID)
	return nil
}

func (a *LocalAuth) checkNewPassword(password string) error {
	if password == "" {
		return NewAuthError(ErrCodeMissingField, "new_password: cannot be blank", "new_password")
	}
	if n := a.Config.MinPasswordLength; utf8.RuneCountInString(password) < n {
		return NewAuthError(ErrCodeInvalidField, fmt.Sprintf("new_password: the length must be no less than %d", n), "new_password")
	}
	return nil
}
