package accounts

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Purpose scopes an action token to the operation it authorizes.
type Purpose string

const (
	PurposeActivate Purpose = "activate"
	PurposeReset    Purpose = "reset"
)

// allowed clock skew for tokens stamped slightly in the future
const tokenFutureSkew = time.Minute

// ActionToken is what goes into an activation or reset link.
type ActionToken struct {
	UID   string
	Token string
}

// ActionTokens issues and checks stateless, expiring action tokens. A token
// is bound to the account's fingerprint so any change to the password, the
// last login, the active flag or the email invalidates it.
type ActionTokens struct {
	secret []byte
	ttls   map[Purpose]time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

func NewActionTokens(secret string, activationTTL, resetTTL time.Duration) *ActionTokens {
	return &ActionTokens{
		secret: []byte(secret),
		ttls: map[Purpose]time.Duration{
			PurposeActivate: activationTTL,
			PurposeReset:    resetTTL,
		},
		Now: time.Now,
	}
}

// Fingerprint captures the account state a token is bound to.
func Fingerprint(a *Account) string {
	lastLogin := ""
	if a.LastLogin != nil {
		lastLogin = strconv.FormatInt(a.LastLogin.UTC().Unix(), 10)
	}
	return strings.Join([]string{
		a.ID,
		a.PasswordHash,
		lastLogin,
		strconv.FormatBool(a.IsActive),
		a.Email,
	}, "|")
}

// EncodeUID encodes an account id for use in a link.
func EncodeUID(accountID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(accountID))
}

// DecodeUID reverses EncodeUID.
func DecodeUID(uid string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(uid, "="))
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", errors.New("empty uid")
	}
	return string(b), nil
}

// Issue creates a token for the account and purpose.
func (t *ActionTokens) Issue(a *Account, p Purpose) (ActionToken, error) {
	if _, ok := t.ttls[p]; !ok {
		return ActionToken{}, fmt.Errorf("unknown token purpose %q", p)
	}
	ts := t.Now().Unix()
	return ActionToken{
		UID:   EncodeUID(a.ID),
		Token: strconv.FormatInt(ts, 36) + "-" + t.sign(p, Fingerprint(a), ts),
	}, nil
}

// Check verifies token against the account's current state. Every failure
// is reported as ErrInvalidToken.
func (t *ActionTokens) Check(a *Account, p Purpose, token string) error {
	ttl, ok := t.ttls[p]
	if !ok || a == nil {
		return ErrInvalidToken
	}
	tsPart, sig, found := strings.Cut(token, "-")
	if !found || tsPart == "" || sig == "" {
		return ErrInvalidToken
	}
	ts, err := strconv.ParseInt(tsPart, 36, 64)
	if err != nil {
		return ErrInvalidToken
	}
	issued := time.Unix(ts, 0)
	now := t.Now()
	if issued.After(now.Add(tokenFutureSkew)) || now.Sub(issued) > ttl {
		return ErrInvalidToken
	}
	expected := t.sign(p, Fingerprint(a), ts)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidToken
	}
	return nil
}

// Resolve decodes uid, loads the account it names and checks token against it.
func (t *ActionTokens) Resolve(ctx context.Context, store AccountStore, uid, token string, p Purpose) (*Account, error) {
	id, err := DecodeUID(uid)
	if err != nil {
		return nil, ErrInvalidToken
	}
	account, err := store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, internalError("loading account", err)
	}
	if err := t.Check(account, p, token); err != nil {
		return nil, err
	}
	return account, nil
}

func (t *ActionTokens) sign(p Purpose, fingerprint string, ts int64) string {
	key := sha256.Sum256(append(append([]byte{}, t.secret...), []byte("|accounts.action."+string(p))...))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(fingerprint))
	mac.Write([]byte("|" + strconv.FormatInt(ts, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:20])
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken(nbytes int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
