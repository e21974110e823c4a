package channel

import (
	"crypto/rand"
	"fmt"
)

const (
	apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	apiKeyLength   = 12
)

// NewAPIKey generates a random channel credential of uppercase letters and
// digits.
func NewAPIKey() (string, error) {
	buf := make([]byte, apiKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("channel: generate api key: %w", err)
	}
	for i, b := range buf {
		buf[i] = apiKeyAlphabet[int(b)%len(apiKeyAlphabet)]
	}
	return string(buf), nil
}
