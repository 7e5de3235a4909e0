package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaterialKind says which branch of the provider exchange to run.
type MaterialKind int

const (
	MaterialNone MaterialKind = iota
	MaterialAccessToken
	MaterialCode
	MaterialIDToken
)

// ExchangeMaterial is what a client sends after authenticating with a provider.
type ExchangeMaterial struct {
	Kind        MaterialKind `json:"-"`
	AccessToken string       `json:"access_token"`
	IDToken     string       `json:"id_token"`
	Code        string       `json:"code"`

	// CallbackURL is filled in for the code branch.
	CallbackURL string `json:"-"`
}

// Resolve picks the branch: an access token wins (an id token may ride along),
// then a code, then a bare id token.
func (m ExchangeMaterial) Resolve() MaterialKind {
	switch {
	case m.AccessToken != "":
		return MaterialAccessToken
	case m.Code != "":
		return MaterialCode
	case m.IDToken != "":
		return MaterialIDToken
	}
	return MaterialNone
}

// ExternalIdentity is what a provider says about the person signing in.
type ExternalIdentity struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Username       string
	FirstName      string
	LastName       string
	Extra          map[string]any
}

// SocialProvider exchanges client material for a verified identity.
type SocialProvider interface {
	ID() string
	Exchange(ctx context.Context, material ExchangeMaterial) (*ExternalIdentity, error)
}

// CallbackResolver returns the redirect URI registered for a provider's code flow.
type CallbackResolver interface {
	CallbackURL(provider string) (string, bool)
}

// CallbackURLs is a static CallbackResolver
type CallbackURLs map[string]string

func (c CallbackURLs) CallbackURL(provider string) (string, bool) {
	u, ok := c[provider]
	return u, ok && u != ""
}

// LinkedAccount is the local account a provider identity resolved to.
type LinkedAccount struct {
	Account *Account
	Link    *SocialAccount
	Created bool
}

// SocialAuth reconciles provider identities with local accounts. It never
// attaches an identity to an existing account just because the emails match.
type SocialAuth struct {
	Stores    Stores
	Providers map[string]SocialProvider
	Callbacks CallbackResolver
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewSocialAuth(stores Stores, callbacks CallbackResolver, providers ...SocialProvider) *SocialAuth {
	s := &SocialAuth{
		Stores:    stores,
		Providers: map[string]SocialProvider{},
		Callbacks: callbacks,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       time.Now,
	}
	for _, p := range providers {
		s.Providers[p.ID()] = p
	}
	return s
}

// Reconcile exchanges material with the provider and returns the local account
// for the identity, provisioning one when neither a link nor a local account
// with the same email exists. Provisioning requires a provider-verified email.
func (s *SocialAuth) Reconcile(ctx context.Context, providerID string, material ExchangeMaterial) (*LinkedAccount, error) {
	identity, err := s.exchange(ctx, providerID, material)
	if err != nil {
		return nil, err
	}

	link, err := s.Stores.SocialAccounts.GetSocialAccount(ctx, identity.Provider, identity.ProviderUserID)
	switch {
	case err == nil:
		return s.existingLink(ctx, link)
	case !errors.Is(err, ErrRecordNotFound):
		return nil, internalError("looking up social account", err)
	}

	exists, err := s.Stores.Accounts.EmailExists(ctx, identity.Email)
	if err != nil {
		return nil, internalError("checking email", err)
	}
	if exists {
		s.Logger.InfoContext(ctx, "social sign-in collides with local account", "provider", identity.Provider)
		return nil, ErrEmailCollision
	}
	// an unverified address could claim an email its owner has not registered yet
	if !identity.EmailVerified {
		return nil, ErrProviderEmailUnverified
	}
	return s.provision(ctx, identity)
}

// Link attaches a provider identity to an already signed in account.
func (s *SocialAuth) Link(ctx context.Context, account *Account, providerID string, material ExchangeMaterial) (*SocialAccount, error) {
	identity, err := s.exchange(ctx, providerID, material)
	if err != nil {
		return nil, err
	}
	existing, err := s.Stores.SocialAccounts.GetSocialAccount(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		if existing.AccountID == account.ID {
			return existing, nil
		}
		return nil, ErrSocialAlreadyLinked
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, internalError("looking up social account", err)
	}
	if !strings.EqualFold(identity.Email, account.Email) {
		return nil, ErrSocialEmailDiffers
	}
	now := s.Now().UTC()
	link := newSocialLink(identity, account.ID, now)
	if err := s.Stores.SocialAccounts.CreateSocialAccount(ctx, link); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrSocialAlreadyLinked
		}
		return nil, internalError("linking social account", err)
	}
	s.Logger.InfoContext(ctx, "social account linked", "provider", identity.Provider, "account_id", account.ID)
	return link, nil
}

func (s *SocialAuth) exchange(ctx context.Context, providerID string, material ExchangeMaterial) (*ExternalIdentity, error) {
	provider, ok := s.Providers[providerID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	material.Kind = material.Resolve()
	switch material.Kind {
	case MaterialNone:
		return nil, ErrMissingMaterial
	case MaterialCode:
		if s.Callbacks == nil {
			s.Logger.ErrorContext(ctx, "no callback url resolver configured", "provider", providerID)
			return nil, ErrMissingCallbackURL
		}
		u, ok := s.Callbacks.CallbackURL(providerID)
		if !ok {
			s.Logger.ErrorContext(ctx, "no callback url configured for provider", "provider", providerID)
			return nil, ErrMissingCallbackURL
		}
		material.CallbackURL = u
	}

	identity, err := provider.Exchange(ctx, material)
	if err != nil {
		s.Logger.WarnContext(ctx, "provider exchange failed", "provider", providerID, "error", err)
		return nil, ErrProviderExchange.Wrap(err)
	}
	if identity == nil || identity.ProviderUserID == "" {
		return nil, ErrProviderExchange.Wrap(errors.New("provider returned no user id"))
	}
	identity.Provider = providerID
	identity.Email = strings.TrimSpace(identity.Email)
	if identity.Email == "" {
		return nil, ErrProviderEmailMissing
	}
	return identity, nil
}

func (s *SocialAuth) existingLink(ctx context.Context, link *SocialAccount) (*LinkedAccount, error) {
	account, err := s.Stores.Accounts.GetAccountByID(ctx, link.AccountID)
	if err != nil {
		return nil, internalError("loading linked account", err)
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	if err := s.Stores.SocialAccounts.TouchSocialLogin(ctx, link.ID, s.Now().UTC()); err != nil {
		s.Logger.WarnContext(ctx, "recording social login failed", "error", err)
	}
	return &LinkedAccount{Account: account, Link: link}, nil
}

// maxUsernameAttempts bounds the search for a free username.
const maxUsernameAttempts = 8

func (s *SocialAuth) provision(ctx context.Context, identity *ExternalIdentity) (*LinkedAccount, error) {
	hash, err := unusablePassword()
	if err != nil {
		return nil, internalError("generating password", err)
	}
	username, err := s.freeUsername(ctx, identity)
	if err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   now,
	}
	link := newSocialLink(identity, account.ID, now)
	if err := s.Stores.Accounts.ProvisionAccount(ctx, account, newProfileFor(account), link); err != nil {
		if errors.Is(err, ErrConflict) {
			// lost a race against a registration or another provisioning
			return nil, ErrEmailCollision
		}
		return nil, internalError("provisioning account", err)
	}
	s.Logger.InfoContext(ctx, "account provisioned from provider", "provider", identity.Provider, "account_id", account.ID)
	return &LinkedAccount{Account: account, Link: link, Created: true}, nil
}

var usernameCleaner = regexp.MustCompile(`[^\w.@+-]`)

func (s *SocialAuth) freeUsername(ctx context.Context, identity *ExternalIdentity) (string, error) {
	base := identity.Username
	if base == "" {
		base, _, _ = strings.Cut(identity.Email, "@")
	}
	base = usernameCleaner.ReplaceAllString(base, "")
	if base == "" {
		base = "user"
	}
	if len(base) > 140 {
		base = base[:140]
	}
	candidate := base
	for i := 0; i < maxUsernameAttempts; i++ {
		exists, err := s.Stores.Accounts.UsernameExists(ctx, candidate)
		if err != nil {
			return "", internalError("checking username", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%s", base, strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	}
	return "", internalError("picking username", errors.New("no free username"))
}

func newSocialLink(identity *ExternalIdentity, accountID string, now time.Time) *SocialAccount {
	return &SocialAccount{
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		AccountID:      accountID,
		Email:          identity.Email,
		ExtraData:      identity.Extra,
		CreatedAt:      now,
		LastLogin:      now,
	}
}
