// -----------------------------------------------------------------------
// Fingerprints - Identity digests for duplicate detection
// -----------------------------------------------------------------------

package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Community computes the identity fingerprint for a community.
// Two communities with the same normalized name, city, and state are
// the same community.
func Community(name, city, state string) string {
	return digest(Normalize(name), Normalize(city), Normalize(state))
}

// Builder computes the identity fingerprint for a builder profile.
// Multi-location brands produce one profile per (name, city, state).
func Builder(name, city, state string) string {
	return digest(Normalize(name), Normalize(city), Normalize(state))
}

// Property computes the identity fingerprint for a property listing
// from its street line and postal code.
func Property(address1, postalCode string) string {
	return digest(NormalizeStreet(address1), Normalize(postalCode))
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
