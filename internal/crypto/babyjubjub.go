package crypto

import (
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/ccoin/shield/pkg/types"
)

// Errors surfaced by the BabyJubJub key-agreement and signature
// operations.
var (
	ErrInvalidPoint     = errors.New("crypto: invalid babyjubjub point")
	ErrSignatureInvalid = errors.New("crypto: eddsa signature verification failed")
)

// babyJubJub returns the twisted-Edwards curve parameters for
// BabyJubJub, the curve embedded in BN254's scalar field.
func babyJubJub() twistededwards.CurveParams {
	return twistededwards.GetEdwardsCurve()
}

// BabyJubJubPoint is a point on the BabyJubJub curve, serialized as a
// 32-byte field element (compressed Y with sign bit, per gnark-crypto
// convention).
type BabyJubJubPoint = twistededwards.PointAffine

// SpendingKeyPair is a BabyJubJub scalar/point pair used as the
// spending identity (master public key half of an Address).
type SpendingKeyPair struct {
	PrivateScalar *big.Int
	PublicKey     BabyJubJubPoint
}

// GenerateSpendingKey derives a BabyJubJub key pair from a 32-byte
// seed (typically a slice of the wallet's derivation path output).
func GenerateSpendingKey(seed []byte) (*SpendingKeyPair, error) {
	curve := babyJubJub()
	scalar := new(big.Int).SetBytes(seed)
	scalar.Mod(scalar, curve.Order)

	var pub BabyJubJubPoint
	pub.ScalarMultiplication(&curve.Base, scalar)

	return &SpendingKeyPair{PrivateScalar: scalar, PublicKey: pub}, nil
}

// ScalarFromSeed reduces an arbitrary-length seed into a BabyJubJub
// scalar, used to reinterpret a viewing key's Ed25519 seed as an ECDH
// private scalar on the curve, per §4.4's "shared = ECDH(viewingPrivateKey, ...)".
func ScalarFromSeed(seed []byte) *big.Int {
	curve := babyJubJub()
	s := new(big.Int).SetBytes(seed)
	s.Mod(s, curve.Order)
	return s
}

// PointToHash serializes a BabyJubJub point to a types.Hash.
func PointToHash(p BabyJubJubPoint) types.Hash {
	b := p.Marshal()
	return types.HashFromBytes(b)
}

// PointFromHash deserializes a types.Hash into a BabyJubJub point.
func PointFromHash(h types.Hash) (BabyJubJubPoint, error) {
	var p BabyJubJubPoint
	if err := p.Unmarshal(h[:]); err != nil {
		return BabyJubJubPoint{}, ErrInvalidPoint
	}
	return p, nil
}

// EdDSASign produces a Schnorr-style EdDSA signature over BabyJubJub:
// R = r*Base, c = Poseidon(R, A, msg), s = r + c*sk (mod curve order).
// The nonce r is derived deterministically from the private scalar
// and message so re-signing the same message is stable.
func EdDSASign(sk *SpendingKeyPair, msg types.Hash) (r BabyJubJubPoint, s *big.Int) {
	curve := babyJubJub()

	nonceSeed := Poseidon(types.HashFromBytes(sk.PrivateScalar.Bytes()), msg)
	nonce := new(big.Int).SetBytes(nonceSeed[:])
	nonce.Mod(nonce, curve.Order)

	r.ScalarMultiplication(&curve.Base, nonce)

	challenge := eddsaChallenge(r, sk.PublicKey, msg)
	c := new(big.Int).SetBytes(challenge[:])
	c.Mod(c, curve.Order)

	s = new(big.Int).Mul(c, sk.PrivateScalar)
	s.Add(s, nonce)
	s.Mod(s, curve.Order)
	return r, s
}

// EdDSAVerify checks that s*Base == R + c*A, where c is recomputed
// from (R, A, msg).
func EdDSAVerify(pub BabyJubJubPoint, msg types.Hash, r BabyJubJubPoint, s *big.Int) bool {
	curve := babyJubJub()

	var lhs BabyJubJubPoint
	lhs.ScalarMultiplication(&curve.Base, s)

	challenge := eddsaChallenge(r, pub, msg)
	c := new(big.Int).SetBytes(challenge[:])
	c.Mod(c, curve.Order)

	var cA, rhs BabyJubJubPoint
	cA.ScalarMultiplication(&pub, c)
	rhs.Add(&r, &cA)

	return lhs.Equal(&rhs)
}

func eddsaChallenge(r, a BabyJubJubPoint, msg types.Hash) types.Hash {
	return Poseidon(PointToHash(r), PointToHash(a), msg)
}

// ECDH derives a shared secret between a local private scalar and a
// counterpart's public point: shared = sk * pub. Both sides arrive at
// the same point since scalar multiplication commutes.
func ECDH(sk *big.Int, pub BabyJubJubPoint) types.Hash {
	var shared BabyJubJubPoint
	shared.ScalarMultiplication(&pub, sk)
	return PointToHash(shared)
}

// GetEphemeralKeys blinds a sender/recipient public key pair (A, B)
// by a random scalar r, producing (rA, rB). The recipient can later
// recover A (or the sender can recover B) given r via
// UnblindedEphemeralKey.
func GetEphemeralKeys(a, b BabyJubJubPoint, r *big.Int) (ra, rb BabyJubJubPoint) {
	ra.ScalarMultiplication(&a, r)
	rb.ScalarMultiplication(&b, r)
	return ra, rb
}

// UnblindedEphemeralKey recovers X from rX given the blinding scalar
// r, by multiplying by r's modular inverse over the curve's subgroup
// order.
func UnblindedEphemeralKey(rx BabyJubJubPoint, r *big.Int) (BabyJubJubPoint, error) {
	curve := babyJubJub()

	rInv := new(big.Int).ModInverse(r, curve.Order)
	if rInv == nil {
		return BabyJubJubPoint{}, ErrInvalidPoint
	}

	var x BabyJubJubPoint
	x.ScalarMultiplication(&rx, rInv)
	return x, nil
}
