// Package note implements the shielded note model: the
// commitment/nullifier algebra, symmetric encryption of the note
// payload, and serialization (§4.3).
package note

import (
	"encoding/binary"
	"errors"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/pkg/types"
)

// ErrDecryptFailed means a ciphertext did not decrypt under the
// attempted key — "not addressed to us", never fatal (§4.4, §7).
var ErrDecryptFailed = errors.New("note: decryption failed")

// Note is the plaintext note tuple of §3: (masterPublicKey,
// viewingPublicKey, token, random, value), plus its derived
// commitment fields.
type Note struct {
	MasterPublicKey  types.Hash
	ViewingPublicKey types.ViewingPublicKey
	Token            types.TokenID
	Random           [types.RandomSize]byte
	Value            uint64
}

// ViewingPublicKeySentinel fills the ViewingPublicKey field of a note
// recovered by decryption, since the viewing key is never transmitted
// in the ciphertext (§4.3, §9). Its presence signals "this note's
// recipient identity has not been rebound yet".
var ViewingPublicKeySentinel types.ViewingPublicKey

// PartialNote is what Note::decrypt actually produces: every field
// except ViewingPublicKey, which callers must rebind before using the
// note for anything that depends on recipient identity (output
// creation, re-encryption). This mirrors the "PartialNote" variant
// suggested in §9: the type system forces the rebind rather than
// letting ViewingPublicKeySentinel silently stand in for a real key.
type PartialNote struct {
	MasterPublicKey types.Hash
	Token           types.TokenID
	Random          [types.RandomSize]byte
	Value           uint64
}

// Rebind attaches a viewing public key to a PartialNote, producing a
// usable Note. Callers must supply the viewing key out of band (it is
// never part of the ciphertext).
func (p PartialNote) Rebind(viewingPublicKey types.ViewingPublicKey) Note {
	return Note{
		MasterPublicKey:  p.MasterPublicKey,
		ViewingPublicKey: viewingPublicKey,
		Token:            p.Token,
		Random:           p.Random,
		Value:            p.Value,
	}
}

// New constructs a note, normalizing token to 20 bytes and random to
// 16 bytes per §4.3.
func New(address types.Address, random []byte, value uint64, token []byte) Note {
	var r [types.RandomSize]byte
	if len(random) >= types.RandomSize {
		copy(r[:], random[len(random)-types.RandomSize:])
	} else {
		copy(r[types.RandomSize-len(random):], random)
	}

	return Note{
		MasterPublicKey:  address.MasterPublicKey,
		ViewingPublicKey: address.ViewingPublicKey,
		Token:            types.TokenIDFromBytes(token),
		Random:           r,
		Value:            value,
	}
}

// valueField encodes the note's value as a 32-byte field element for
// hashing purposes.
func valueField(value uint64) types.Hash {
	return crypto.FieldFromUint64(value)
}

// randomField encodes the note's random bytes as a field element.
func (n Note) randomField() types.Hash {
	return crypto.FieldFromBytes(n.Random[:])
}

func (n PartialNote) randomField() types.Hash {
	return crypto.FieldFromBytes(n.Random[:])
}

func tokenField(t types.TokenID) types.Hash {
	return crypto.FieldFromBytes(t[:])
}

// NotePublicKey computes notePublicKey = Poseidon(masterPublicKey, random).
func (n Note) NotePublicKey() types.Hash {
	return crypto.Poseidon(n.MasterPublicKey, n.randomField())
}

// Hash computes hash = Poseidon(notePublicKey, token, value), the
// on-chain commitment.
func (n Note) Hash() types.Hash {
	return crypto.Poseidon(n.NotePublicKey(), tokenField(n.Token), valueField(n.Value))
}

// NotePublicKey/Hash on PartialNote are identical computations; value
// does not depend on the (unknown) viewing public key.

func (p PartialNote) NotePublicKey() types.Hash {
	return crypto.Poseidon(p.MasterPublicKey, p.randomField())
}

func (p PartialNote) Hash() types.Hash {
	return crypto.Poseidon(p.NotePublicKey(), tokenField(p.Token), valueField(p.Value))
}

// GetNullifier computes nullifier(note, position) = Poseidon(nullifyingKey, position),
// per §3. The note's own fields do not enter the computation directly
// (double-spend protection comes from the nullifying key being
// specific to the spender and the position being specific to the
// leaf); nullifyingKey must already be Poseidon(viewingPrivateKey).
func GetNullifier(nullifyingKey types.Hash, leafIndex types.Position) types.Hash {
	return crypto.Poseidon(nullifyingKey, positionField(leafIndex))
}

// NullifyingKey computes nullifyingKey = Poseidon(viewingPrivateKey).
func NullifyingKey(viewingPrivateKeySeed types.Hash) types.Hash {
	return crypto.Poseidon(viewingPrivateKeySeed)
}

func positionField(p types.Position) types.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(p))
	return crypto.FieldFromBytes(b[:])
}
