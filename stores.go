package accounts

import (
	"context"
	"time"
)

// Account is a local user account
type Account struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	DateJoined   time.Time  `json:"date_joined"`
}

// HasUsablePassword is false for accounts provisioned from a social provider.
func (a *Account) HasUsablePassword() bool {
	return a.PasswordHash != "" && a.PasswordHash[0] != '!'
}

// Profile carries the user facing details of an activated account.
type Profile struct {
	ID         int64          `json:"id"`
	AccountID  string         `json:"user"`
	FirstName  string         `json:"first_name"`
	MiddleName string         `json:"middle_name"`
	LastName   string         `json:"last_name"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SessionToken is the persistent opaque credential of the session scheme.
type SessionToken struct {
	Key       string    `json:"key"`
	AccountID string    `json:"user_id"`
	CreatedAt time.Time `json:"created"`
}

// SocialAccount links an identity at an external provider to a local account.
type SocialAccount struct {
	ID             int64          `json:"id"`
	Provider       string         `json:"provider"`
	ProviderUserID string         `json:"uid"`
	AccountID      string         `json:"user_id"`
	Email          string         `json:"email"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
	CreatedAt      time.Time      `json:"date_joined"`
	LastLogin      time.Time      `json:"last_login"`
}

// AccountStore persists accounts. Lookups return ErrRecordNotFound when
// nothing matches and writes return ErrConflict on a unique violation.
type AccountStore interface {
	// CreateAccount stores a new account
	CreateAccount(ctx context.Context, account *Account) error

	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)

	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// ActivateAccount flips an inactive account to active and creates its
	// profile in one step. It returns ErrStaleState if the account was
	// already active.
	ActivateAccount(ctx context.Context, id string, profile *Profile) error

	// ProvisionAccount creates an active account with its profile and
	// social link in one step.
	ProvisionAccount(ctx context.Context, account *Account, profile *Profile, link *SocialAccount) error

	// SetPasswordHash replaces the password hash only if it still equals
	// currentHash, returning ErrStaleState otherwise.
	SetPasswordHash(ctx context.Context, id, currentHash, newHash string) error

	// TouchLastLogin records a successful sign-in.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// ProfileFilter narrows a profile listing
type ProfileFilter struct {
	AccountID string
}

// ProfileStore persists profiles
type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	GetProfileByAccount(ctx context.Context, accountID string) (*Profile, error)

	// ListProfiles returns matching profiles, newest first
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]*Profile, error)

	SaveProfile(ctx context.Context, profile *Profile) error
}

// SessionTokenStore persists session tokens, one per account.
type SessionTokenStore interface {
	// GetOrCreateSessionToken returns the account's token, creating it with
	// newKey when missing. Concurrent callers observe the same token.
	GetOrCreateSessionToken(ctx context.Context, accountID string, newKey string) (token *SessionToken, created bool, err error)

	GetSessionToken(ctx context.Context, key string) (*SessionToken, error)
}

// SocialAccountStore persists provider links
type SocialAccountStore interface {
	GetSocialAccount(ctx context.Context, provider, providerUserID string) (*SocialAccount, error)
	CreateSocialAccount(ctx context.Context, link *SocialAccount) error
	ListSocialAccounts(ctx context.Context, accountID string) ([]*SocialAccount, error)
	TouchSocialLogin(ctx context.Context, id int64, at time.Time) error
}

// Stores bundles every store the flows depend on.
type Stores struct {
	Accounts       AccountStore
	Profiles       ProfileStore
	SessionTokens  SessionTokenStore
	SocialAccounts SocialAccountStore
}
