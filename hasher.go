package accounts

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// unusablePasswordPrefix marks accounts that cannot sign in with a password.
const unusablePasswordPrefix = "!"

// PasswordHasher hashes and verifies account passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// BcryptHasher is the default PasswordHasher
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h BcryptHasher) Compare(hash, password string) bool {
	if hash == "" || hash[:1] == unusablePasswordPrefix {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		// malformed hash, treated like a wrong password
		return false
	}
	return err == nil
}

// unusablePassword returns a hash that no password matches.
func unusablePassword() (string, error) {
	tok, err := GenerateSecureToken(20)
	if err != nil {
		return "", err
	}
	return unusablePasswordPrefix + tok, nil
}
