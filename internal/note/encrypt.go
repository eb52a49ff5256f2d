package note

import (
	"encoding/binary"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/pkg/types"
)

// Ciphertext is the three-chunk encrypted note payload of §4.3:
// masterPublicKey (32B), token (20B), random‖value (16B‖8B), each
// sealed independently under the ECDH shared key. The value is a
// uint64 packed as 8 big-endian bytes; values wider than 64 bits are
// not representable.
type Ciphertext struct {
	Chunks [3]crypto.EncryptedChunk
}

// Encrypt packs and seals [masterPublicKey, token, random‖value] as
// three independent AES-256-GCM chunks under sharedKey.
func Encrypt(n Note, sharedKey []byte) (Ciphertext, error) {
	randomValue := make([]byte, types.RandomSize+8)
	copy(randomValue, n.Random[:])
	binary.BigEndian.PutUint64(randomValue[types.RandomSize:], n.Value)

	plaintexts := [][]byte{
		n.MasterPublicKey[:],
		n.Token[:],
		randomValue,
	}

	sealed, err := crypto.EncryptChunks(sharedKey, plaintexts)
	if err != nil {
		return Ciphertext{}, err
	}

	var ct Ciphertext
	copy(ct.Chunks[:], sealed)
	return ct, nil
}

// Decrypt recovers a PartialNote from ct under sharedKey. Failure
// here is never fatal to a caller scanning leaves: it simply means
// "this leaf is not addressed to us" (§4.4, §7).
func Decrypt(ct Ciphertext, sharedKey []byte) (PartialNote, error) {
	plains, err := crypto.DecryptChunks(sharedKey, ct.Chunks[:])
	if err != nil {
		return PartialNote{}, ErrDecryptFailed
	}
	if len(plains) != 3 || len(plains[0]) != types.HashSize ||
		len(plains[1]) != types.TokenIDSize || len(plains[2]) != types.RandomSize+8 {
		return PartialNote{}, ErrDecryptFailed
	}

	var out PartialNote
	out.MasterPublicKey = types.HashFromBytes(plains[0])
	out.Token = types.TokenIDFromBytes(plains[1])
	copy(out.Random[:], plains[2][:types.RandomSize])
	out.Value = binary.BigEndian.Uint64(plains[2][types.RandomSize:])
	return out, nil
}

// EncryptedRandom seals just the note's random value under the
// recipient's viewing private key, recoverable only by that key
// (§4.3's "encryptedRandom" field used by the Preimage commitment
// form).
func EncryptedRandom(n Note, viewingPrivateKeySeed []byte) ([]byte, error) {
	return crypto.EncryptChunk(viewingPrivateKeySeed, n.Random[:])
}

// DecryptRandom is the inverse of EncryptedRandom.
func DecryptRandom(encryptedRandom []byte, viewingPrivateKeySeed []byte) ([types.RandomSize]byte, error) {
	var out [types.RandomSize]byte
	pt, err := crypto.DecryptChunk(viewingPrivateKeySeed, encryptedRandom)
	if err != nil {
		return out, ErrDecryptFailed
	}
	if len(pt) != types.RandomSize {
		return out, ErrDecryptFailed
	}
	copy(out[:], pt)
	return out, nil
}
