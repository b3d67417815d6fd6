package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Validators and block proposers are identified by their full hex-encoded
// ed25519 public key; there is no derived short address form. The hex
// strings below are what appears in committee slots, block justifications
// and configuration files.
const (
	// PublicKeyHexLen is the length of a hex-encoded public key.
	PublicKeyHexLen = 2 * ed25519.PublicKeySize
	// SeedSize is the byte length of the seed a deterministic key is
	// expanded from.
	SeedSize = ed25519.SeedSize
)

// PrivateKey wraps ed25519 private key bytes.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes.
type PublicKey []byte

// GenerateKeyPair generates a fresh random ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// NewKeyFromSeed deterministically expands a SeedSize-byte seed into a
// private key. Used for reproducible validator identities in tests and
// tooling.
func NewKeyFromSeed(seed []byte) PrivateKey {
	return PrivateKey(ed25519.NewKeyFromSeed(seed))
}

// Public derives the public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Hex returns the hex-encoded private key.
func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Hex returns the validator identity: the full hex-encoded public key.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// PubKeyFromHex decodes a validator identity back into a public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	if len(s) != PublicKeyHexLen {
		return nil, fmt.Errorf("pubkey must be %d hex chars (%d bytes ed25519), got %d", PublicKeyHexLen, ed25519.PublicKeySize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	return PublicKey(b), nil
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid privkey hex: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("privkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}
