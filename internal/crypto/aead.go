package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// ErrCiphertextTooShort is returned when a ciphertext is shorter than
// the GCM nonce it must be prefixed with.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce")

// EncryptedChunk is one AES-256-GCM-sealed chunk: a nonce-prefixed,
// tag-suffixed ciphertext, matching the {iv, tag, data} shape of §4.1
// with the nonce and tag both folded into Data (Seal's standard
// layout) for compactness.
type EncryptedChunk struct {
	Data []byte
}

// EncryptChunks seals each of plaintextChunks independently under key
// (a 32-byte AES-256 key), each with its own random nonce. This is the
// "[plaintextChunks], key -> {iv, tag, data[]}" operation of §4.1,
// used by Note encryption to pack masterPublicKey/token/random‖value
// as three independent chunks (§4.3).
func EncryptChunks(key []byte, plaintextChunks [][]byte) ([]EncryptedChunk, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]EncryptedChunk, len(plaintextChunks))
	for i, pt := range plaintextChunks {
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, err
		}
		sealed := gcm.Seal(nonce, nonce, pt, nil)
		out[i] = EncryptedChunk{Data: sealed}
	}
	return out, nil
}

// DecryptChunks is the inverse of EncryptChunks.
func DecryptChunks(key []byte, chunks []EncryptedChunk) ([][]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(chunks))
	nonceSize := gcm.NonceSize()
	for i, c := range chunks {
		if len(c.Data) < nonceSize {
			return nil, ErrCiphertextTooShort
		}
		nonce, ct := c.Data[:nonceSize], c.Data[nonceSize:]
		pt, err := gcm.Open(nil, nonce, ct, nil)
		if err != nil {
			return nil, err
		}
		out[i] = pt
	}
	return out, nil
}

// EncryptChunk is EncryptChunks specialized to a single chunk, used
// for the random-under-viewing-key encryption of §4.3.
func EncryptChunk(key, plaintext []byte) ([]byte, error) {
	chunks, err := EncryptChunks(key, [][]byte{plaintext})
	if err != nil {
		return nil, err
	}
	return chunks[0].Data, nil
}

// DecryptChunk is DecryptChunks specialized to a single chunk.
func DecryptChunk(key, ciphertext []byte) ([]byte, error) {
	out, err := DecryptChunks(key, []EncryptedChunk{{Data: ciphertext}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
