package wallet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/pkg/types"
)

// Fixed HD derivation prefixes, per §4.4. The protocol uses exactly
// two derivation subtrees, never a general BIP-44 path: spending keys
// come from coin type 1984 purpose 44', viewing keys from the same
// coin type under purpose 420'.
var (
	spendingPrefix = []uint32{
		44 + bip32.FirstHardenedChild,
		1984 + bip32.FirstHardenedChild,
		0 + bip32.FirstHardenedChild,
		0 + bip32.FirstHardenedChild,
	}
	viewingPrefix = []uint32{
		420 + bip32.FirstHardenedChild,
		1984 + bip32.FirstHardenedChild,
		0 + bip32.FirstHardenedChild,
		0 + bip32.FirstHardenedChild,
	}
)

// MnemonicToSeed converts a BIP-39 mnemonic to its 64-byte seed.
func MnemonicToSeed(mnemonic string) ([]byte, error) {
	return bip39.NewSeedWithErrorChecking(mnemonic, "")
}

// deriveChild walks masterSeed down prefix plus a final hardened
// index-specific child, returning the resulting child key's raw 32
// bytes.
func deriveChild(masterSeed []byte, prefix []uint32, index uint32) ([]byte, error) {
	key, err := bip32.NewMasterKey(masterSeed)
	if err != nil {
		return nil, err
	}
	for _, n := range prefix {
		key, err = key.NewChildKey(n)
		if err != nil {
			return nil, err
		}
	}
	key, err = key.NewChildKey(index + bip32.FirstHardenedChild)
	if err != nil {
		return nil, err
	}
	return key.Key, nil
}

// DeriveSpendingKey derives the BabyJubJub spending key pair at
// m/44'/1984'/0'/0'/<index>'.
func DeriveSpendingKey(masterSeed []byte, index uint32) (*crypto.SpendingKeyPair, error) {
	seed, err := deriveChild(masterSeed, spendingPrefix, index)
	if err != nil {
		return nil, err
	}
	return crypto.GenerateSpendingKey(seed)
}

// DeriveViewingKey derives the Ed25519 viewing key pair at
// m/420'/1984'/0'/0'/<index>'.
func DeriveViewingKey(masterSeed []byte, index uint32) (*crypto.ViewingKeyPair, error) {
	seed, err := deriveChild(masterSeed, viewingPrefix, index)
	if err != nil {
		return nil, err
	}
	return crypto.GenerateViewingKey(seed[:32])
}

// WalletID computes sha256(mnemonic_seed ‖ hex(index)), the wallet
// identity of §4.4.
func WalletID(masterSeed []byte, index uint32) types.Hash {
	hexIndex := []byte(hex.EncodeToString(uint32Bytes(index)))
	preimage := make([]byte, 0, len(masterSeed)+len(hexIndex))
	preimage = append(preimage, masterSeed...)
	preimage = append(preimage, hexIndex...)
	sum := sha256.Sum256(preimage)
	return types.Hash(sum)
}

func uint32Bytes(n uint32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func uint64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}
