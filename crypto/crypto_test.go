package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/crypto"
)

func TestHash(t *testing.T) {
	h := crypto.Hash([]byte("skua"))
	assert.Len(t, h, 2*crypto.HashLen)
	assert.Equal(t, h, crypto.Hash([]byte("skua")), "hashing is deterministic")
	assert.NotEqual(t, h, crypto.Hash([]byte("skub")))
}

func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sig := crypto.Sign(priv, []byte("payload"))
	assert.NoError(t, crypto.Verify(pub, []byte("payload"), sig))
	assert.Error(t, crypto.Verify(pub, []byte("tampered"), sig))

	_, other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	assert.Error(t, crypto.Verify(other, []byte("payload"), sig))

	// Malformed signatures fail before the ed25519 check.
	assert.ErrorIs(t, crypto.Verify(pub, []byte("payload"), "00"), crypto.ErrBadSignature)
	assert.ErrorIs(t, crypto.Verify(pub, []byte("payload"), sig[:len(sig)-2]+"zz"), crypto.ErrBadSignature)
}

func TestSignHashVerifyHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	digest := crypto.Hash([]byte("block header"))
	sig := crypto.SignHash(priv, digest)
	assert.Len(t, sig, crypto.SignatureHexLen)
	assert.NoError(t, crypto.VerifyHash(pub, digest, sig))
	assert.ErrorIs(t, crypto.VerifyHash(pub, crypto.Hash([]byte("other")), sig), crypto.ErrBadSignature)
}

func TestKeyHexRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	pub2, err := crypto.PubKeyFromHex(pub.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub.Hex(), pub2.Hex())

	priv2, err := crypto.PrivKeyFromHex(priv.Hex())
	require.NoError(t, err)
	assert.Equal(t, pub.Hex(), priv2.Public().Hex())

	_, err = crypto.PubKeyFromHex("zz")
	assert.Error(t, err)
}

func TestSeedChain(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	genesis := crypto.VrfSeed(crypto.Hash([]byte("seed:test")))
	next := crypto.NextSeed(priv, genesis)

	assert.NoError(t, crypto.VerifySeed(next, genesis, pub))
	assert.ErrorIs(t, crypto.VerifySeed(genesis, next, pub), crypto.ErrBadSeed)

	_, other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, crypto.VerifySeed(next, genesis, other), crypto.ErrBadSeed)
}

func TestSeedEntropy(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	s1 := crypto.NextSeed(priv, "aa")
	s2 := crypto.NextSeed(priv, "aa")
	assert.Equal(t, s1.Entropy(), s2.Entropy(), "ed25519 signing is deterministic")
	assert.NotEqual(t, s1.Entropy(), crypto.NextSeed(priv, "bb").Entropy())

	r := s1.Rand("proposer", 40)
	assert.Len(t, r, 40)
	assert.Equal(t, r, s1.Rand("proposer", 40))
	assert.NotEqual(t, r, s1.Rand("shuffle", 40))
}
