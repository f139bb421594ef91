package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Digest is the hex BLAKE2b-256 sum stored alongside every ledger snapshot.
func Digest(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
