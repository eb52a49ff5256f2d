package note

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/pkg/types"
)

// ErrUnknownCommitmentKind is returned when a Commitment's Kind tag is
// neither Encrypted nor Preimage.
var ErrUnknownCommitmentKind = errors.New("note: unknown commitment kind")

// CommitmentKind tags the on-chain commitment union of §3.
type CommitmentKind uint8

const (
	// KindEncrypted carries a full ciphertext plus ephemeral keys.
	KindEncrypted CommitmentKind = iota
	// KindPreimage carries a plaintext preimage plus an
	// encrypted-random field recoverable only by the viewing key.
	KindPreimage
)

// EphemeralKeys is the (blinded sender key, blinded recipient key)
// pair attached to an Encrypted commitment.
type EphemeralKeys [2]types.Hash

// Preimage is the plaintext-ish payload of a Preimage commitment:
// everything except the random value, which stays hidden behind
// EncryptedRandom.
type Preimage struct {
	NotePublicKey types.Hash
	Token         types.TokenID
	Value         uint64
}

// Commitment is the tagged union on-chain commitment type of §3,
// modeled as a struct with a Kind discriminant rather than an
// interface so it serializes directly with msgpack (§9's "model as a
// tagged variant; dispatch by tag").
type Commitment struct {
	Kind CommitmentKind
	Hash types.Hash
	TxID types.TxID

	// Encrypted fields.
	Ciphertext      Ciphertext
	EphemeralKeys   EphemeralKeys
	SenderPublicKey types.Hash

	// Preimage fields.
	Preimage        Preimage
	EncryptedRandom []byte
}

// storedTXOPayload is the wire shape of a decrypted note attached to
// a stored TXO: {npk, token, value, encryptedRandom}, per §4.3's
// "serialize/deserialize persist" contract.
type storedTXOPayload struct {
	NotePublicKey   []byte `msgpack:"npk"`
	Token           []byte `msgpack:"token"`
	Value           uint64 `msgpack:"value"`
	EncryptedRandom []byte `msgpack:"encryptedRandom"`
}

// Serialize encodes a decrypted note (a PartialNote with its random
// re-encrypted under the viewing key) to the stable wire schema
// consumed by the wallet store.
func Serialize(n PartialNote, viewingPrivateKeySeed []byte) ([]byte, error) {
	encRandom, err := EncryptedRandom(Note{
		MasterPublicKey: n.MasterPublicKey,
		Token:           n.Token,
		Random:          n.Random,
		Value:           n.Value,
	}, viewingPrivateKeySeed)
	if err != nil {
		return nil, err
	}

	payload := storedTXOPayload{
		NotePublicKey:   n.NotePublicKey().Bytes(),
		Token:           n.Token[:],
		Value:           n.Value,
		EncryptedRandom: encRandom,
	}
	return msgpack.Marshal(&payload)
}

// Deserialize decodes the stable wire schema, recovering the note's
// random value via the viewing private key. NotePublicKey is carried
// through verbatim rather than recomputed, since the master public
// key is not part of this wire shape.
func Deserialize(data []byte, viewingPrivateKeySeed []byte) (notePublicKey types.Hash, token types.TokenID, value uint64, random [types.RandomSize]byte, err error) {
	var payload storedTXOPayload
	if err = msgpack.Unmarshal(data, &payload); err != nil {
		return
	}

	notePublicKey = types.HashFromBytes(payload.NotePublicKey)
	token = types.TokenIDFromBytes(payload.Token)
	value = payload.Value

	random, err = DecryptRandom(payload.EncryptedRandom, viewingPrivateKeySeed)
	return
}

// commitmentWire is the on-the-wire msgpack shape of a full Commitment,
// used by the chain event source to gossip leaf batches (§6): unlike
// storedTXOPayload, this carries both union arms plus the hash/txid
// envelope so a receiver can dispatch on Kind without any key material.
type commitmentWire struct {
	Kind CommitmentKind `msgpack:"kind"`
	Hash []byte         `msgpack:"hash"`
	TxID []byte         `msgpack:"txid"`

	CiphertextChunks  [][]byte `msgpack:"ciphertext"`
	EphemeralKeys     [][]byte `msgpack:"ephemeralKeys"`
	SenderPublicKey   []byte   `msgpack:"senderPublicKey"`

	PreimageNotePublicKey []byte `msgpack:"preimageNpk"`
	PreimageToken         []byte `msgpack:"preimageToken"`
	PreimageValue         uint64 `msgpack:"preimageValue"`
	EncryptedRandom       []byte `msgpack:"encryptedRandom"`
}

// EncodeCommitment serializes a Commitment to its wire form.
func EncodeCommitment(c Commitment) ([]byte, error) {
	w := commitmentWire{
		Kind:            c.Kind,
		Hash:            c.Hash[:],
		TxID:            c.TxID[:],
		SenderPublicKey: c.SenderPublicKey[:],
		EncryptedRandom: c.EncryptedRandom,
	}
	for _, chunk := range c.Ciphertext.Chunks {
		w.CiphertextChunks = append(w.CiphertextChunks, chunk.Data)
	}
	for _, key := range c.EphemeralKeys {
		w.EphemeralKeys = append(w.EphemeralKeys, key[:])
	}
	w.PreimageNotePublicKey = c.Preimage.NotePublicKey[:]
	w.PreimageToken = c.Preimage.Token[:]
	w.PreimageValue = c.Preimage.Value

	return msgpack.Marshal(&w)
}

// DecodeCommitment is the inverse of EncodeCommitment.
func DecodeCommitment(data []byte) (Commitment, error) {
	var w commitmentWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Commitment{}, err
	}

	c := Commitment{
		Kind:            w.Kind,
		Hash:            types.HashFromBytes(w.Hash),
		TxID:            types.TxID(types.HashFromBytes(w.TxID)),
		SenderPublicKey: types.HashFromBytes(w.SenderPublicKey),
		EncryptedRandom: w.EncryptedRandom,
	}
	for i, chunk := range w.CiphertextChunks {
		if i >= len(c.Ciphertext.Chunks) {
			break
		}
		c.Ciphertext.Chunks[i].Data = chunk
	}
	for i, key := range w.EphemeralKeys {
		if i >= len(c.EphemeralKeys) {
			break
		}
		c.EphemeralKeys[i] = types.HashFromBytes(key)
	}
	c.Preimage = Preimage{
		NotePublicKey: types.HashFromBytes(w.PreimageNotePublicKey),
		Token:         types.TokenIDFromBytes(w.PreimageToken),
		Value:         w.PreimageValue,
	}
	if w.Kind != KindEncrypted && w.Kind != KindPreimage {
		return Commitment{}, ErrUnknownCommitmentKind
	}
	return c, nil
}

// HashForPreimage computes the same commitment hash a Preimage
// commitment carries, from its plaintext parts, used to cross-check a
// Preimage commitment against its claimed Hash field.
func HashForPreimage(p Preimage) types.Hash {
	return crypto.Poseidon(p.NotePublicKey, tokenField(p.Token), crypto.FieldFromUint64(p.Value))
}
