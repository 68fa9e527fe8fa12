package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidOrganizerKey = errors.New("invalid organizer key")

// organizerKeyBytes is the entropy of a generated organizer key.
const organizerKeyBytes = 18

// NewOrganizerKey returns a random organizer key and its bcrypt hash. Only the
// hash is stored; the key is shown to the bill's creator once.
func NewOrganizerKey() (key, hash string, err error) {
	buf := make([]byte, organizerKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate organizer key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(buf)

	hash, err = HashOrganizerKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}

// HashOrganizerKey hashes key with bcrypt.
func HashOrganizerKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash organizer key: %w", err)
	}
	return string(hashed), nil
}

// VerifyOrganizerKey compares key against hash.
func VerifyOrganizerKey(hash, key string) error {
	if hash == "" || key == "" {
		return ErrInvalidOrganizerKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidOrganizerKey
	}
	return nil
}
