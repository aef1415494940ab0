// Package secret detects secret values that were never resolved by the
// hosting platform and derives log-safe fingerprints of real ones.
package secret

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keyVaultPrefix marks an App Service Key Vault reference that the platform
// failed to replace with the secret value.
const keyVaultPrefix = "@Microsoft.KeyVault("

// Predicate reports whether a configured value is still an unresolved
// reference rather than a literal secret. It must treat "" as resolved-absent.
type Predicate func(value string) bool

// KeyVaultReference is the Predicate for Azure Key Vault app setting references.
func KeyVaultReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), keyVaultPrefix)
}

// Never is a Predicate for deployments without a secret manager.
func Never(string) bool { return false }

// Fingerprint returns the first 12 hex characters of the SHA-256 of value,
// or "" for an empty value.
func Fingerprint(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:12]
}
