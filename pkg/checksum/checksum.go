// Package checksum computes the SHA-256 digests recorded for every original
// photo. The digest is stored as blob metadata and in the upload audit entry so
// that a file pulled from storage later can be matched against what the field
// team submitted.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the lowercase hex SHA-256 of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
