// Package crypto implements the pure cryptographic primitives the
// rest of the shielded-pool core is built on: Poseidon hashing over
// the BN254 scalar field, BabyJubJub EdDSA and ECDH, Ed25519 for
// viewing keys, and AES-256-GCM note encryption. Every function here
// is synchronous and side-effect free; no I/O, no locks.
package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"

	"github.com/ccoin/shield/pkg/types"
)

// ErrInvalidFieldElement is returned when a byte string does not
// represent a canonical element of the SNARK scalar field.
var ErrInvalidFieldElement = errors.New("crypto: value exceeds snark scalar field")

// poseidonHasherFactory mirrors the gnark-crypto Merkle-Damgard
// construction used for Poseidon2 over bn254.fr.
var poseidonHasherFactory = poseidon2.NewMerkleDamgardHasher

// FieldFromBytes reduces b (big-endian) into a canonical scalar-field
// element, returned as a types.Hash.
func FieldFromBytes(b []byte) types.Hash {
	var e fr.Element
	e.SetBytes(b)
	out := e.Bytes()
	return types.Hash(out)
}

// FieldFromUint64 encodes n as a field element.
func FieldFromUint64(n uint64) types.Hash {
	var e fr.Element
	e.SetUint64(n)
	out := e.Bytes()
	return types.Hash(out)
}

// Poseidon hashes a sequence of field elements (each reduced mod the
// SNARK prime) down to a single field element, per §4.1.
func Poseidon(elements ...types.Hash) types.Hash {
	hasher := poseidonHasherFactory()
	for _, el := range elements {
		var e fr.Element
		e.SetBytes(el[:])
		b := e.Bytes()
		hasher.Write(b[:])
	}
	sum := hasher.Sum(nil)
	return types.HashFromBytes(sum)
}

// HashPair is Poseidon specialized to two inputs, used by the Merkle
// tree to combine sibling nodes (§4.2's hashLeftRight).
func HashPair(left, right types.Hash) types.Hash {
	return Poseidon(left, right)
}

// RandomScalar returns a uniformly random element of the SNARK scalar
// field, per §4.1.
func RandomScalar() (types.Hash, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return types.Hash{}, err
	}
	out := e.Bytes()
	return types.Hash(out), nil
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ScalarToBigInt converts a field-element Hash to a big.Int for use
// in curve scalar multiplications.
func ScalarToBigInt(h types.Hash) *big.Int {
	var e fr.Element
	e.SetBytes(h[:])
	return e.BigInt(new(big.Int))
}

// BigIntToScalar reduces n mod the SNARK prime and returns it as a Hash.
func BigIntToScalar(n *big.Int) types.Hash {
	var e fr.Element
	e.SetBigInt(n)
	out := e.Bytes()
	return types.Hash(out)
}
