// ABOUTME: Worker credential checks against bcrypt hashes from the directory
// ABOUTME: Also hashes new credentials for seeding the directory

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredential is returned when a worker credential does not match.
var ErrInvalidCredential = errors.New("invalid credential")

// VerifyCredential checks credential against a stored bcrypt hash. An empty
// hash accepts any credential.
func VerifyCredential(hash, credential string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// HashCredential returns the bcrypt hash stored for a worker credential.
func HashCredential(credential string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
