// Package checksum fingerprints page content.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data hashes to want. An ETag-style quoted value is
// accepted, and an empty want matches anything.
func Matches(data []byte, want string) bool {
	want = strings.Trim(strings.TrimSpace(want), `"`)
	return want == "" || want == Sum(data)
}
