package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	sessionTokenBytes = 32
	apiKeyBytes       = 32
	apiKeyPrefix      = "pwa_"
)

// generateSessionToken creates a cryptographically random session token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// generateAPIKey creates a new API key, returning the plaintext (shown
// to the user exactly once), its storage hash, and a short display
// prefix.
func generateAPIKey() (plaintext, hash, prefix string, err error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext = apiKeyPrefix + hex.EncodeToString(b)
	hash = hashAPIKey(plaintext)
	prefix = plaintext[:len(apiKeyPrefix)+8]

	return plaintext, hash, prefix, nil
}

// hashAPIKey returns the hex SHA-256 digest stored for an API key.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
