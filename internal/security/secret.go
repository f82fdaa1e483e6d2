package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SecretBytes is the entropy of a biometric credential secret (256 bits).
const SecretBytes = 32

// GenerateSecret returns SecretBytes of crypto/rand output, base64url encoded without padding.
// There is no weaker fallback: if the system source fails the error is returned.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
