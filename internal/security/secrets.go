package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the minimum length of a job's signing secret.
	MinSecretLength = 48

	// MinEntropy is the minimum Shannon entropy, in bits per character.
	MinEntropy = 3.5
)

// Values shipped in sample configs that must never be used for real.
var placeholderSecrets = map[string]bool{
	"replace-with-secret":                                true,
	"replace-with-secret-must-be-at-least-32-chars-long": true,
	"another-secret-must-be-at-least-32-chars-long":      true,
	"your-job-secret-min-48-chars-long":                  true,
	"topsecret":                                          true,
	"secret":                                             true,
	"password":                                           true,
	"changeme":                                           true,
}

var placeholderFragments = []string{"replace", "changeme", "topsecret", "password"}

// ValidateSecret ensures a job secret is long, random and not a placeholder.
func ValidateSecret(secret string) error {
	if len(secret) < MinSecretLength {
		return fmt.Errorf("secret too short (minimum %d characters, got %d)", MinSecretLength, len(secret))
	}

	lower := strings.ToLower(secret)
	if placeholderSecrets[lower] {
		return fmt.Errorf("secret appears to be a placeholder value, please use a real secret")
	}
	for _, fragment := range placeholderFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("secret appears to be a placeholder value (contains %q)", fragment)
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f) - use a more random secret", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret returns a random 48-character URL-safe secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// calculateEntropy returns the Shannon entropy of s in bits per character.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	var entropy float64
	length := float64(len(s))
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}
