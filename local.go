package accounts

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// SessionCredential is the sign-in result of the session scheme.
type SessionCredential struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// LocalAuth runs the username/password account flows: sign-in,
// registration, activation and the password lifecycle.
type LocalAuth struct {
	Config   *Config
	Stores   Stores
	Resolver *CredentialResolver
	Tokens   *ActionTokens
	API      *APIAuth
	Hasher   PasswordHasher

	// Sends activation and reset links
	EmailSender SendEmail

	Logger *slog.Logger
	Now    func() time.Time
}

// Option customizes a LocalAuth
type Option func(*LocalAuth)

func WithLogger(l *slog.Logger) Option {
	return func(a *LocalAuth) { a.Logger = l }
}

func WithHasher(h PasswordHasher) Option {
	return func(a *LocalAuth) { a.Hasher = h }
}

// WithClock replaces the time source of the flows and of the tokens they issue.
func WithClock(now func() time.Time) Option {
	return func(a *LocalAuth) { a.Now = now }
}

func NewLocalAuth(cfg *Config, stores Stores, sender SendEmail, opts ...Option) *LocalAuth {
	cfg.EnsureDefaults()
	a := &LocalAuth{
		Config:      cfg,
		Stores:      stores,
		EmailSender: sender,
		Hasher:      BcryptHasher{Cost: cfg.BcryptCost},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Resolver = &CredentialResolver{Accounts: stores.Accounts, Hasher: a.Hasher}
	a.Tokens = NewActionTokens(cfg.SecretKey, cfg.ActivationTokenTTL, cfg.ResetTokenTTL)
	a.Tokens.Now = a.Now
	a.API = NewAPIAuth(cfg)
	a.API.Now = a.Now
	return a
}

// SignIn verifies the credentials and returns the account's session token,
// creating it on first use.
func (a *LocalAuth) SignIn(ctx context.Context, identifier, secret string) (*SessionCredential, error) {
	if !a.Config.Allows(SchemeSession) {
		return nil, ErrSchemeDisabled
	}
	account, err := a.authenticate(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	token, err := a.sessionToken(ctx, account)
	if err != nil {
		return nil, err
	}
	return &SessionCredential{
		Token:    token.Key,
		UserID:   account.ID,
		Email:    account.Email,
		Username: account.Username,
	}, nil
}

// SignInJWT verifies the credentials and mints a new access/refresh pair.
func (a *LocalAuth) SignInJWT(ctx context.Context, identifier, secret string) (*TokenPair, error) {
	if !a.Config.Allows(SchemeJWT) {
		return nil, ErrSchemeDisabled
	}
	account, err := a.authenticate(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	pair, err := a.API.CreateTokenPair(account.ID)
	if err != nil {
		return nil, internalError("creating tokens", err)
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *LocalAuth) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !a.Config.Allows(SchemeJWT) {
		return nil, ErrSchemeDisabled
	}
	accountID, err := a.API.ValidateRefreshToken(refreshToken)
	if err != nil {
		a.Logger.DebugContext(ctx, "refresh token rejected", "error", err)
		return nil, ErrTokenNotValid
	}
	account, err := a.Stores.Accounts.GetAccountByID(ctx, accountID)
	if err != nil || !account.IsActive {
		return nil, ErrTokenNotValid
	}
	access, err := a.API.CreateAccessToken(account.ID)
	if err != nil {
		return nil, internalError("creating access token", err)
	}
	return &TokenPair{Access: access}, nil
}

// AccountForSessionToken returns the active account owning a session token key.
func (a *LocalAuth) AccountForSessionToken(ctx context.Context, key string) (*Account, error) {
	token, err := a.Stores.SessionTokens.GetSessionToken(ctx, key)
	if err != nil {
		return nil, ErrTokenNotValid
	}
	return a.activeAccount(ctx, token.AccountID)
}

// AccountForAccessToken returns the active account an access JWT was issued to.
func (a *LocalAuth) AccountForAccessToken(ctx context.Context, token string) (*Account, error) {
	accountID, err := a.API.ValidateAccessToken(token)
	if err != nil {
		return nil, ErrTokenNotValid
	}
	return a.activeAccount(ctx, accountID)
}

// AccountForCredential accepts "Token <key>", "Bearer <jwt>" or a bare JWT.
func (a *LocalAuth) AccountForCredential(ctx context.Context, credential string) (*Account, error) {
	scheme, value, found := strings.Cut(strings.TrimSpace(credential), " ")
	if !found {
		if !a.Config.Allows(SchemeJWT) {
			return nil, ErrTokenNotValid
		}
		return a.AccountForAccessToken(ctx, scheme)
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(scheme) {
	case "token":
		if !a.Config.Allows(SchemeSession) {
			return nil, ErrTokenNotValid
		}
		return a.AccountForSessionToken(ctx, value)
	case "bearer":
		if !a.Config.Allows(SchemeJWT) {
			return nil, ErrTokenNotValid
		}
		return a.AccountForAccessToken(ctx, value)
	}
	return nil, ErrTokenNotValid
}

// AccountForID returns the active account with id, as recorded in a
// server side session.
func (a *LocalAuth) AccountForID(ctx context.Context, id string) (*Account, error) {
	return a.activeAccount(ctx, id)
}

// SignInVerified issues credentials to an account whose identity was
// established elsewhere, e.g. by a social provider. Each enabled scheme
// contributes its credential.
func (a *LocalAuth) SignInVerified(ctx context.Context, account *Account) (*SessionCredential, *TokenPair, error) {
	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}
	now := a.Now().UTC()
	if err := a.Stores.Accounts.TouchLastLogin(ctx, account.ID, now); err != nil {
		return nil, nil, internalError("updating last login", err)
	}
	account.LastLogin = &now

	var session *SessionCredential
	if a.Config.Allows(SchemeSession) {
		token, err := a.sessionToken(ctx, account)
		if err != nil {
			return nil, nil, err
		}
		session = &SessionCredential{Token: token.Key, UserID: account.ID, Email: account.Email, Username: account.Username}
	}
	var pair *TokenPair
	if a.Config.Allows(SchemeJWT) {
		var err error
		if pair, err = a.API.CreateTokenPair(account.ID); err != nil {
			return nil, nil, internalError("creating tokens", err)
		}
	}
	return session, pair, nil
}

func (a *LocalAuth) activeAccount(ctx context.Context, id string) (*Account, error) {
	account, err := a.Stores.Accounts.GetAccountByID(ctx, id)
	if err != nil || !account.IsActive {
		return nil, ErrTokenNotValid
	}
	return account, nil
}

// authenticate resolves the credentials, rejects inactive accounts and
// records the login. Both credential schemes go through here.
func (a *LocalAuth) authenticate(ctx context.Context, identifier, secret string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return nil, ErrMissingLogin
	}
	account, err := a.Resolver.Resolve(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrAccountInactive
	}
	now := a.Now().UTC()
	if err := a.Stores.Accounts.TouchLastLogin(ctx, account.ID, now); err != nil {
		return nil, internalError("updating last login", err)
	}
	account.LastLogin = &now
	a.Logger.InfoContext(ctx, "account signed in", "account_id", account.ID)
	return account, nil
}

func (a *LocalAuth) sessionToken(ctx context.Context, account *Account) (*SessionToken, error) {
	key, err := GenerateSecureToken(20)
	if err != nil {
		return nil, internalError("generating session token", err)
	}
	token, created, err := a.Stores.SessionTokens.GetOrCreateSessionToken(ctx, account.ID, key)
	if err != nil {
		return nil, internalError("issuing session token", err)
	}
	if created {
		a.Logger.DebugContext(ctx, "session token created", "account_id", account.ID)
	}
	return token, nil
}
