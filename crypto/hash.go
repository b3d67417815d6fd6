package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashLen is the digest size in bytes; hex-encoded hashes are twice that.
const HashLen = blake2b.Size256

// ZeroHash is the all-zeros hash used as the genesis parent reference.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Hash returns the blake2b-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw blake2b-256 bytes of data.
func HashBytes(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}
