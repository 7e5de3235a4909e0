package accounts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenPair is the credential of the JWT scheme. Refresh is omitted when
// only a new access token was minted.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// APIAuth mints and validates the stateless JWTs of the JWT scheme.
type APIAuth struct {
	JWTSecretKey  string // Secret key for signing JWTs
	JWTIssuer     string // Issuer claim, checked when set
	JWTSigningAlg string // HS256 (default), HS384 or HS512

	AccessTokenExpiry  time.Duration // Defaults to 5 minutes
	RefreshTokenExpiry time.Duration // Defaults to 1 day

	Now func() time.Time
}

// NewAPIAuth builds an APIAuth from the account config
func NewAPIAuth(cfg *Config) *APIAuth {
	return &APIAuth{
		JWTSecretKey:       cfg.SecretKey,
		JWTIssuer:          cfg.JWTIssuer,
		AccessTokenExpiry:  cfg.AccessTokenTTL,
		RefreshTokenExpiry: cfg.RefreshTokenTTL,
		Now:                time.Now,
	}
}

// CreateTokenPair mints a fresh access and refresh token for the account.
func (a *APIAuth) CreateTokenPair(accountID string) (*TokenPair, error) {
	access, err := a.createToken(accountID, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := a.createToken(accountID, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

// CreateAccessToken mints an access token only
func (a *APIAuth) CreateAccessToken(accountID string) (string, error) {
	return a.createToken(accountID, TokenTypeAccess)
}

// ValidateAccessToken returns the account id an access token was issued to.
func (a *APIAuth) ValidateAccessToken(tokenString string) (string, error) {
	return a.validate(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken returns the account id a refresh token was issued to.
func (a *APIAuth) ValidateRefreshToken(tokenString string) (string, error) {
	return a.validate(tokenString, TokenTypeRefresh)
}

func (a *APIAuth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *APIAuth) expiry(tokenType string) time.Duration {
	if tokenType == TokenTypeRefresh {
		if a.RefreshTokenExpiry > 0 {
			return a.RefreshTokenExpiry
		}
		return DefaultRefreshTokenTTL
	}
	if a.AccessTokenExpiry > 0 {
		return a.AccessTokenExpiry
	}
	return DefaultAccessTokenTTL
}

func (a *APIAuth) createToken(accountID, tokenType string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":        accountID,
		"user_id":    accountID,
		"token_type": tokenType,
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(a.expiry(tokenType)).Unix(),
	}
	if a.JWTIssuer != "" {
		claims["iss"] = a.JWTIssuer
	}

	signingMethod := jwt.SigningMethodHS256
	if a.JWTSigningAlg == "HS384" {
		signingMethod = jwt.SigningMethodHS384
	} else if a.JWTSigningAlg == "HS512" {
		signingMethod = jwt.SigningMethodHS512
	}

	token := jwt.NewWithClaims(signingMethod, claims)
	tokenString, err := token.SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (a *APIAuth) validate(tokenString, tokenType string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.JWTSecretKey), nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if tt, ok := claims["token_type"].(string); !ok || tt != tokenType {
		return "", fmt.Errorf("invalid token type")
	}
	if a.JWTIssuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != a.JWTIssuer {
			return "", fmt.Errorf("invalid issuer")
		}
	}
	accountID, ok := claims["sub"].(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("missing subject")
	}
	return accountID, nil
}
