package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// ErrMalformedPublicKey is returned when a byte string cannot be a
// valid Ed25519 public key because its length is wrong. Identity or
// low-order points of the right length are not rejected here.
var ErrMalformedPublicKey = errors.New("crypto: malformed ed25519 public key")

// ViewingKeyPair is the Ed25519 keypair used to decrypt notes
// addressed to a wallet, per §4.4.
type ViewingKeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateViewingKey derives an Ed25519 keypair deterministically from
// a 32-byte seed (a slice of the wallet's viewing-subtree derivation
// output).
func GenerateViewingKey(seed []byte) (*ViewingKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("crypto: viewing key seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &ViewingKeyPair{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

// Ed25519Sign signs msg with sk.
func Ed25519Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Ed25519Verify verifies sig against msg under pub. Malformed public
// keys (wrong length) are rejected rather than trusted to the
// underlying library's possibly-permissive behavior.
func Ed25519Verify(pub ed25519.PublicKey, msg, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, ErrMalformedPublicKey
	}
	return ed25519.Verify(pub, msg, sig), nil
}

// RandomEd25519Seed returns a fresh 32-byte Ed25519 seed.
func RandomEd25519Seed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}
