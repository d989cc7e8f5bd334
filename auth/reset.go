package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GeneratePassword returns a 16 hex character one-time password.
func GeneratePassword() (string, error) {
	return randomHex(8)
}

// NewResetTicket returns the plaintext handed to the user and the hash to store.
func NewResetTicket() (plain, hash string, err error) {
	plain, err = randomHex(32)
	if err != nil {
		return "", "", err
	}
	return plain, HashResetToken(plain), nil
}

func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
