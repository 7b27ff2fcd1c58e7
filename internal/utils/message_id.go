package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentHash returns the hex SHA-256 of raw message bytes, the
// ground-truth identity of a message on disk.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SyntheticMessageID builds a deterministic Message-ID for messages
// that arrived without one. Synthetic ids are used by the file index
// only and never enter the push manifest.
func SyntheticMessageID(contentHash string) string {
	return fmt.Sprintf("<%s@content-hash>", contentHash)
}

// IsSyntheticMessageID reports whether id was minted by
// SyntheticMessageID.
func IsSyntheticMessageID(id string) bool {
	return strings.HasSuffix(id, "@content-hash>")
}

// NormalizeMessageID trims whitespace and surrounding angle brackets
// are kept as-is; an empty result means the header was absent.
func NormalizeMessageID(id string) string {
	return strings.TrimSpace(id)
}
