// Package apikey generates ingest API keys and their bcrypt hashes.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Prefix marks generated keys
const Prefix = "gaso_"

// Generate returns a random API key
func Generate() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + hex.EncodeToString(b), nil
}

// Hash hashes a key for the server's auth.api_key setting
func Hash(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IsHash reports whether s is a bcrypt hash rather than a plain key
func IsHash(s string) bool {
	if len(s) != 60 || !strings.HasPrefix(s, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Matches reports whether key hashes to hash
func Matches(hash, key string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
