package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// SignupRequest carries the registration form
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Validate checks the request shape. minPassword of 0 only requires a password.
func (r SignupRequest) Validate(minPassword int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username,
			validation.Required,
			validation.Length(1, 150),
			validation.Match(usernamePattern).Error("may contain only letters, numbers, and @/./+/-/_ characters"),
		),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 150)),
		validation.Field(&r.LastName, validation.Length(0, 150)),
		validation.Field(&r.Password, validation.Required, validation.Length(minPassword, 0)),
	)
}

// PendingAccount is the result of a successful registration.
type PendingAccount struct {
	Account *Account
	Message string
}

const (
	msgRegistered = "User successfully registered. Please check your mail and verify your account"
	msgActivated  = "Thank you for your email confirmation. Now you can login your account."
	msgResent     = "If an unverified account uses this email, a new verification link has been sent."
)

// Register creates an inactive account and mails its activation link.
func (a *LocalAuth) Register(ctx context.Context, req SignupRequest) (*PendingAccount, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(a.Config.MinPasswordLength); err != nil {
		return nil, validationError(err)
	}

	if exists, err := a.Stores.Accounts.EmailExists(ctx, req.Email); err != nil {
		return nil, internalError("checking email", err)
	} else if exists {
		return nil, ErrEmailTaken
	}
	if exists, err := a.Stores.Accounts.UsernameExists(ctx, req.Username); err != nil {
		return nil, internalError("checking username", err)
	} else if exists {
		return nil, ErrUsernameTaken
	}

	hash, err := a.Hasher.Hash(req.Password)
	if err != nil {
		return nil, internalError("hashing password", err)
	}
	account := &Account{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		IsActive:     false,
		DateJoined:   a.Now().UTC(),
	}
	if err := a.Stores.Accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, a.conflictField(ctx, account)
		}
		return nil, internalError("creating account", err)
	}
	a.Logger.InfoContext(ctx, "account registered", "account_id", account.ID)

	if err := a.sendActivation(ctx, account); err != nil {
		return nil, err
	}
	return &PendingAccount{Account: account, Message: msgRegistered}, nil
}

// Activate consumes an activation link: the account becomes active and
// gets its profile. A link works at most once.
func (a *LocalAuth) Activate(ctx context.Context, uid, token string) (*Account, error) {
	account, err := a.Tokens.Resolve(ctx, a.Stores.Accounts, uid, token, PurposeActivate)
	if err != nil {
		return nil, err
	}
	if account.IsActive {
		return nil, ErrInvalidToken
	}
	profile := newProfileFor(account)
	if err := a.Stores.Accounts.ActivateAccount(ctx, account.ID, profile); err != nil {
		if errors.Is(err, ErrStaleState) || errors.Is(err, ErrConflict) {
			return nil, ErrInvalidToken
		}
		return nil, internalError("activating account", err)
	}
	account.IsActive = true
	a.Logger.InfoContext(ctx, "account activated", "account_id", account.ID)
	return account, nil
}

// ResendActivation mails a fresh activation link to a pending account.
// Unknown and already active addresses get the same answer.
func (a *LocalAuth) ResendActivation(ctx context.Context, email string) (string, error) {
	account, err := a.Stores.Accounts.GetAccountByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return msgResent, nil
		}
		return "", internalError("looking up email", err)
	}
	if account.IsActive {
		return msgResent, nil
	}
	if err := a.sendActivation(ctx, account); err != nil {
		return "", err
	}
	return msgResent, nil
}

func (a *LocalAuth) sendActivation(ctx context.Context, account *Account) error {
	tok, err := a.Tokens.Issue(account, PurposeActivate)
	if err != nil {
		return internalError("issuing activation token", err)
	}
	link := a.link("email-verification", tok)
	if err := a.EmailSender.SendVerificationEmail(ctx, account.Email, displayName(account), link); err != nil {
		a.Logger.ErrorContext(ctx, "sending activation email failed", "account_id", account.ID, "error", err)
		return ErrMailFailed.Wrap(err)
	}
	return nil
}

// conflictField works out which unique field a lost insert race collided on.
func (a *LocalAuth) conflictField(ctx context.Context, account *Account) error {
	if exists, err := a.Stores.Accounts.EmailExists(ctx, account.Email); err == nil && exists {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

func (a *LocalAuth) link(path string, tok ActionToken) string {
	return fmt.Sprintf("%s/%s/%s/%s/", strings.TrimRight(a.Config.BackendURL, "/"), path, tok.UID, tok.Token)
}

func newProfileFor(account *Account) *Profile {
	return &Profile{
		AccountID: account.ID,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		Email:     account.Email,
	}
}

// displayName is the name used to greet the account holder in mail.
func displayName(account *Account) string {
	name := account.Username
	if name == "" {
		name, _, _ = strings.Cut(account.Email, "@")
	}
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// validationError turns ozzo-validation errors into an AuthError naming the
// first offending field.
func validationError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return NewAuthError(ErrCodeInvalidField, err.Error(), "")
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	field := fields[0]
	code := ErrCodeInvalidField
	if verrs[field].Error() == "cannot be blank" {
		code = ErrCodeMissingField
	}
	out := NewAuthError(code, fmt.Sprintf("%s: %v", field, verrs[field]), field)
	out.Err = err
	return out
}
