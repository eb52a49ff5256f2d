package wallet

import (
	"context"
	"testing"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/internal/kvstore/memory"
	"github.com/ccoin/shield/internal/note"
	"github.com/ccoin/shield/pkg/types"
)

type noopNullifierIndex struct{}

func (noopNullifierIndex) GetNullified(ctx context.Context, nullifier types.Hash) (types.TxID, bool, error) {
	return types.TxID{}, false, nil
}

func newTestWallet(t *testing.T) (*Wallet, []byte) {
	t.Helper()
	store := memory.New()

	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := MnemonicToSeed(mnemonic)
	if err != nil {
		t.Fatalf("MnemonicToSeed: %v", err)
	}

	w, err := newWallet(store, noopNullifierIndex{}, seed, mnemonic, 0, nil)
	if err != nil {
		t.Fatalf("newWallet: %v", err)
	}
	return w, seed
}

// buildEncryptedLeaf simulates a sender encrypting n to this wallet's
// viewing identity via ephemeral ECDH, the inverse of tryDecrypt's
// Encrypted branch.
func buildEncryptedLeaf(t *testing.T, w *Wallet, n note.Note, position types.Position) Leaf {
	t.Helper()

	recipientPub, err := crypto.GenerateSpendingKey(w.viewingPrivateKeySeed())
	if err != nil {
		t.Fatalf("recipient ecdh key: %v", err)
	}

	ephemeralSeed := make([]byte, 32)
	ephemeralSeed[0] = byte(position + 1)
	ephemeral, err := crypto.GenerateSpendingKey(ephemeralSeed)
	if err != nil {
		t.Fatalf("ephemeral key: %v", err)
	}

	shared := crypto.ECDH(ephemeral.PrivateScalar, recipientPub.PublicKey)
	ct, err := note.Encrypt(n, shared.Bytes())
	if err != nil {
		t.Fatalf("note.Encrypt: %v", err)
	}

	return Leaf{
		Position: position,
		Commitment: note.Commitment{
			Kind:          note.KindEncrypted,
			Hash:          n.Hash(),
			TxID:          types.TxID{0xAA},
			Ciphertext:    ct,
			EphemeralKeys: note.EphemeralKeys{crypto.PointToHash(ephemeral.PublicKey)},
		},
	}
}

func TestScanLeavesClaimsEncryptedNote(t *testing.T) {
	w, _ := newTestWallet(t)
	addr := w.Address(nil)

	n := note.New(addr, []byte{1, 2, 3}, 500, []byte{0xAB})
	leaf := buildEncryptedLeaf(t, w, n, 0)

	ctx := context.Background()
	claimed, err := w.ScanLeaves(ctx, []Leaf{leaf}, 0, types.AnyChain)
	if err != nil {
		t.Fatalf("ScanLeaves: %v", err)
	}
	if !claimed {
		t.Fatal("expected leaf to be claimed")
	}

	txos, err := w.TXOs(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("TXOs: %v", err)
	}
	if len(txos) != 1 {
		t.Fatalf("got %d txos, want 1", len(txos))
	}
	if txos[0].Value != 500 {
		t.Fatalf("txo value = %d, want 500", txos[0].Value)
	}
	if txos[0].NotePublicKey != n.NotePublicKey() {
		t.Fatal("recovered notePublicKey mismatch")
	}
}

func TestScanLeavesIgnoresUnaddressedNote(t *testing.T) {
	w, _ := newTestWallet(t)

	otherSeed := make([]byte, 32)
	otherSeed[0] = 0x77
	otherViewing, err := crypto.GenerateSpendingKey(otherSeed)
	if err != nil {
		t.Fatalf("other viewing key: %v", err)
	}

	ephemeralSeed := make([]byte, 32)
	ephemeralSeed[0] = 1
	ephemeral, err := crypto.GenerateSpendingKey(ephemeralSeed)
	if err != nil {
		t.Fatalf("ephemeral key: %v", err)
	}

	shared := crypto.ECDH(ephemeral.PrivateScalar, otherViewing.PublicKey)
	addr := w.Address(nil)
	n := note.New(addr, []byte{9, 9, 9}, 10, []byte{0x01})
	ct, err := note.Encrypt(n, shared.Bytes())
	if err != nil {
		t.Fatalf("note.Encrypt: %v", err)
	}

	leaf := Leaf{
		Position: 0,
		Commitment: note.Commitment{
			Kind:          note.KindEncrypted,
			Ciphertext:    ct,
			EphemeralKeys: note.EphemeralKeys{crypto.PointToHash(ephemeral.PublicKey)},
		},
	}

	ctx := context.Background()
	claimed, err := w.ScanLeaves(ctx, []Leaf{leaf}, 0, types.AnyChain)
	if err != nil {
		t.Fatalf("ScanLeaves: %v", err)
	}
	if claimed {
		t.Fatal("expected leaf addressed to another wallet not to be claimed")
	}
}

func TestScanLeavesIdempotent(t *testing.T) {
	w, _ := newTestWallet(t)
	addr := w.Address(nil)
	n := note.New(addr, []byte{1}, 100, []byte{0x01})
	leaf := buildEncryptedLeaf(t, w, n, 3)

	ctx := context.Background()
	if _, err := w.ScanLeaves(ctx, []Leaf{leaf}, 0, types.AnyChain); err != nil {
		t.Fatalf("first ScanLeaves: %v", err)
	}
	if _, err := w.ScanLeaves(ctx, []Leaf{leaf}, 0, types.AnyChain); err != nil {
		t.Fatalf("second ScanLeaves: %v", err)
	}

	txos, err := w.TXOs(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("TXOs: %v", err)
	}
	if len(txos) != 1 {
		t.Fatalf("got %d txos after rescanning same leaf, want 1", len(txos))
	}
}

func TestScanAdvancesScannedHeight(t *testing.T) {
	w, _ := newTestWallet(t)
	addr := w.Address(nil)
	n := note.New(addr, []byte{1}, 10, []byte{0x01})
	leaf := buildEncryptedLeaf(t, w, n, 0)

	ctx := context.Background()
	fetch := func(ctx context.Context, tree types.TreeNumber, fromHeight uint32) ([]Leaf, error) {
		if tree != 0 {
			return nil, nil
		}
		return []Leaf{leaf}, nil
	}

	if err := w.Scan(ctx, types.AnyChain, 1, fetch); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	details, err := w.loadDetails(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("loadDetails: %v", err)
	}
	// Per §9 Open Question 2, reproduced as-is: one leaf yields
	// scannedHeight 0 (len(leaves)-1), not 1.
	if scannedHeight(details, 0) != 0 {
		t.Fatalf("scannedHeight = %d, want 0 (len(leaves)-1 reproduced as-is)", scannedHeight(details, 0))
	}

	txos, err := w.TXOs(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("TXOs: %v", err)
	}
	if len(txos) != 1 {
		t.Fatalf("got %d txos, want 1", len(txos))
	}
}

func TestScanConcurrentCallIsNoOp(t *testing.T) {
	w, _ := newTestWallet(t)
	lock := w.scanLock(types.AnyChain)
	lock.Lock()
	defer lock.Unlock()

	called := false
	fetch := func(ctx context.Context, tree types.TreeNumber, fromHeight uint32) ([]Leaf, error) {
		called = true
		return nil, nil
	}

	if err := w.Scan(context.Background(), types.AnyChain, 1, fetch); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if called {
		t.Fatal("expected Scan to no-op while the chain's scan lock is held")
	}
}

func TestBalancesAggregatesByToken(t *testing.T) {
	w, _ := newTestWallet(t)
	addr := w.Address(nil)

	ctx := context.Background()
	token := []byte{0xAB}
	n1 := note.New(addr, []byte{1}, 100, token)
	n2 := note.New(addr, []byte{2}, 50, token)

	if _, err := w.ScanLeaves(ctx, []Leaf{buildEncryptedLeaf(t, w, n1, 0)}, 0, types.AnyChain); err != nil {
		t.Fatalf("ScanLeaves n1: %v", err)
	}
	if _, err := w.ScanLeaves(ctx, []Leaf{buildEncryptedLeaf(t, w, n2, 1)}, 0, types.AnyChain); err != nil {
		t.Fatalf("ScanLeaves n2: %v", err)
	}

	balances, err := w.Balances(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	tb, ok := balances[n1.Token]
	if !ok {
		t.Fatal("expected a balance entry for the token")
	}
	if tb.Balance != 150 {
		t.Fatalf("balance = %d, want 150", tb.Balance)
	}
	if len(tb.UTXOs) != 2 {
		t.Fatalf("got %d utxos, want 2", len(tb.UTXOs))
	}
}
