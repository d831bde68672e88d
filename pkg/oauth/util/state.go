package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateState returns 32 random bytes hex-encoded, used as the OAuth
// state parameter.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
