package wallet

import (
	"context"
	"testing"

	"github.com/ccoin/shield/internal/kvstore/memory"
	"github.com/ccoin/shield/pkg/types"
)

func TestWalletIDDeterministic(t *testing.T) {
	seed := []byte("some deterministic seed material")
	id1 := WalletID(seed, 0)
	id2 := WalletID(seed, 0)
	if id1 != id2 {
		t.Fatal("WalletID should be deterministic for the same seed and index")
	}
	if WalletID(seed, 1) == id1 {
		t.Fatal("WalletID should differ across indices")
	}
}

func TestFromMnemonicWritesRecord(t *testing.T) {
	store := memory.New()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	userKey := make([]byte, 32)
	userKey[0] = 1

	ctx := context.Background()
	w, err := FromMnemonic(ctx, store, noopNullifierIndex{}, userKey, mnemonic, 0, nil)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	data, err := store.GetEncrypted(ctx, walletKey(w.ID()), userKey)
	if err != nil {
		t.Fatalf("GetEncrypted: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a persisted wallet record")
	}
}

func TestWalletDetailsRoundTrip(t *testing.T) {
	w, _ := newTestWallet(t)
	ctx := context.Background()

	details, err := w.loadDetails(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("loadDetails (empty): %v", err)
	}
	if len(details.TreeScannedHeights) != 0 {
		t.Fatal("expected no scanned heights before any scan")
	}

	details = setScannedHeight(details, 2, 41)
	if err := w.saveDetails(ctx, types.AnyChain, details); err != nil {
		t.Fatalf("saveDetails: %v", err)
	}

	reloaded, err := w.loadDetails(ctx, types.AnyChain)
	if err != nil {
		t.Fatalf("loadDetails (reload): %v", err)
	}
	if scannedHeight(reloaded, 2) != 41 {
		t.Fatalf("scannedHeight(tree 2) = %d, want 41", scannedHeight(reloaded, 2))
	}
	if scannedHeight(reloaded, 0) != 0 {
		t.Fatalf("scannedHeight(tree 0) = %d, want 0", scannedHeight(reloaded, 0))
	}
}
