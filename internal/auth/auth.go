// Package auth implements the shared-passphrase gate. Both parties know one
// static passphrase; this is an access convenience, not a security boundary.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrWrongPassphrase = errors.New("wrong passphrase")

// HashPassphrase produces a bcrypt hash suitable for PASSPHRASE_HASH.
func HashPassphrase(passphrase string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify checks the passphrase against the configured hash. An empty hash
// disables the gate (local/memory mode).
func Verify(hash, passphrase string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)); err != nil {
		return ErrWrongPassphrase
	}
	return nil
}
