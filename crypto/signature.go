package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// SignatureHexLen is the length of a hex-encoded ed25519 signature.
const SignatureHexLen = 2 * ed25519.SignatureSize

// ErrBadSignature is returned for malformed or non-verifying signatures.
var ErrBadSignature = errors.New("signature verification failed")

// Sign signs raw bytes and returns the hex-encoded signature.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// SignHash signs a hex-encoded digest. Proposer justifications, committee
// votes and VRF seeds all sign the hex form, so that the signed bytes of a
// hash are exactly the bytes it is stored and transmitted as.
func SignHash(priv PrivateKey, hash string) string {
	return Sign(priv, []byte(hash))
}

// Verify checks a hex-encoded signature over raw bytes. A signature of the
// wrong length or with non-hex characters fails without reaching the
// ed25519 check, so garbage from the network never parses.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	if len(sigHex) != SignatureHexLen {
		return fmt.Errorf("%w: signature must be %d hex chars, got %d", ErrBadSignature, SignatureHexLen, len(sigHex))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyHash checks a signature produced by SignHash.
func VerifyHash(pub PublicKey, hash, sigHex string) error {
	return Verify(pub, []byte(hash), sigHex)
}
