package crypto

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the number of digest bytes kept in a fingerprint.
const FingerprintSize = 16

// Fingerprint returns the truncated BLAKE2b-256 hex fingerprint of a public key.
func Fingerprint(publicKey []byte) string {
	sum := blake2b.Sum256(publicKey)
	return hex.EncodeToString(sum[:FingerprintSize])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := min(i+4, len(clean))
		b.WriteString(clean[i:end])
	}

	return b.String()
}
