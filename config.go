package accounts

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CredentialScheme selects which credential a successful sign-in issues.
type CredentialScheme string

const (
	SchemeSession CredentialScheme = "session"
	SchemeJWT     CredentialScheme = "jwt"
	SchemeBoth    CredentialScheme = "both"
)

// Default token lifetimes
const (
	DefaultActivationTokenTTL = 72 * time.Hour
	DefaultResetTokenTTL      = 72 * time.Hour
	DefaultAccessTokenTTL     = 5 * time.Minute
	DefaultRefreshTokenTTL    = 24 * time.Hour
)

// Config holds everything the account flows need to know about their
// deployment. It is loaded once at startup and passed to constructors.
type Config struct {
	// SecretKey signs action tokens and JWTs.
	SecretKey string `env:"SECRET_KEY,required"`

	// Scheme is the credential scheme enabled for sign-in.
	Scheme CredentialScheme `env:"AUTH_SCHEME" envDefault:"both"`

	// SessionLogin also records the signed in account in the scs session.
	SessionLogin bool `env:"AUTH_SESSION_LOGIN" envDefault:"false"`

	// BackendURL prefixes activation and reset links sent by mail.
	BackendURL string `env:"BACKEND_URL,required"`

	// AppName appears in mail subjects.
	AppName string `env:"APP_NAME" envDefault:"Kanban Board"`

	// SenderEmail is the From address of outgoing mail.
	SenderEmail string `env:"EMAIL_HOST_USER,required"`

	ActivationTokenTTL time.Duration `env:"ACTIVATION_TOKEN_TTL" envDefault:"72h"`
	ResetTokenTTL      time.Duration `env:"PASSWORD_RESET_TIMEOUT" envDefault:"72h"`
	AccessTokenTTL     time.Duration `env:"JWT_ACCESS_TOKEN_LIFETIME" envDefault:"5m"`
	RefreshTokenTTL    time.Duration `env:"JWT_REFRESH_TOKEN_LIFETIME" envDefault:"24h"`
	JWTIssuer          string        `env:"JWT_ISSUER"`

	// ConcealUnknownEmail makes forgot-password answer the same way for
	// known and unknown addresses.
	ConcealUnknownEmail bool `env:"CONCEAL_UNKNOWN_EMAIL" envDefault:"false"`

	// ProfileOwnerOnly restricts profile listing and updates to the caller.
	ProfileOwnerOnly bool `env:"PROFILE_OWNER_ONLY" envDefault:"false"`

	MinPasswordLength int `env:"MIN_PASSWORD_LENGTH" envDefault:"0"`
	BcryptCost        int `env:"BCRYPT_COST" envDefault:"10"`
}

// LoadConfig reads a .env file when present and parses the environment into a Config.
func LoadConfig() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset fields, useful for configs built in code.
func (c *Config) EnsureDefaults() {
	if c.Scheme == "" {
		c.Scheme = SchemeBoth
	}
	if c.AppName == "" {
		c.AppName = "Kanban Board"
	}
	if c.ActivationTokenTTL == 0 {
		c.ActivationTokenTTL = DefaultActivationTokenTTL
	}
	if c.ResetTokenTTL == 0 {
		c.ResetTokenTTL = DefaultResetTokenTTL
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 10
	}
}

// Validate fails on settings the flows cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	switch c.Scheme {
	case SchemeSession, SchemeJWT, SchemeBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_SCHEME %q", c.Scheme))
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL %q is not an absolute URL", c.BackendURL))
	}
	if c.MinPasswordLength < 0 {
		errs = append(errs, errors.New("MIN_PASSWORD_LENGTH must not be negative"))
	}
	if len(errs) > 0 {
		return &AuthError{Kind: KindConfiguration, Code: "invalid_config", Message: "invalid configuration", Err: errors.Join(errs...)}
	}
	return nil
}

// Allows reports whether s may be used to sign in.
func (c *Config) Allows(s CredentialScheme) bool {
	return c.Scheme == SchemeBoth || c.Scheme == s
}
