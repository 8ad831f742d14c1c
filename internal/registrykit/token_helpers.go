package registrykit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const apiTokenByteLength = 32

// generateTokenOpaque returns a raw bearer secret and its storable hash. The
// raw value is shown to the user once; only the hash is persisted.
func generateTokenOpaque() (string, string, error) {
	randomBytes := make([]byte, apiTokenByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("account_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashTokenOpaque(opaque), nil
}

// hashTokenOpaque maps a presented secret to its stored lookup key. Lookup by
// digest keeps validation time independent of the secret's content.
func hashTokenOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
