package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/internal/note"
	"github.com/ccoin/shield/pkg/types"
)

// Leaf is one commitment delivered by the chain event source at a
// known tree position, per §6's "(tree, startPosition, leaves)" batch
// shape.
type Leaf struct {
	Position   types.Position
	Commitment note.Commitment
}

// TreeBalance aggregates unspent value for one token within one tree,
// per §3.
type TreeBalance struct {
	Tree    types.TreeNumber
	Token   types.TokenID
	Balance uint64
	UTXOs   []StoredTXO
}

// Balances maps token to its aggregate unspent balance across all
// trees of a chain.
type Balances map[types.TokenID]TreeBalance

// BalancesByTree maps token to a per-tree breakdown, ordered by tree
// index, per §3.
type BalancesByTree map[types.TokenID][]TreeBalance

func (w *Wallet) viewingPrivateKeySeed() []byte {
	return w.viewingKey.PrivateKey.Seed()
}

func (w *Wallet) nullifyingKey() types.Hash {
	return note.NullifyingKey(types.HashFromBytes(w.viewingPrivateKeySeed()))
}

// scanLock returns (creating if needed) the mutex guarding Scan calls
// for chainID, per §5's per-chain scan lock.
func (w *Wallet) scanLock(chainID types.ChainID) *sync.Mutex {
	w.scanLockPerChainMu.Lock()
	defer w.scanLockPerChainMu.Unlock()
	l, ok := w.scanLockPerChain[chainID]
	if !ok {
		l = &sync.Mutex{}
		w.scanLockPerChain[chainID] = l
	}
	return l
}

// ScanLeaves attempts decryption of every leaf against this wallet's
// viewing key, persisting a StoredTXO for each successful decrypt.
// Decryption failure is never fatal — it means "not addressed to us"
// (§4.4, §7) — and every leaf is attempted regardless of the
// persisted scanned height (§9 Open Question 3, reproduced as-is: the
// caller already filters which leaves to pass in, but scanLeaves
// itself does not re-check position against scannedHeight). Returns
// whether any leaf was claimed.
func (w *Wallet) ScanLeaves(ctx context.Context, leaves []Leaf, tree types.TreeNumber, chainID types.ChainID) (bool, error) {
	claimed := false
	viewingSeed := w.viewingPrivateKeySeed()
	nullifyingKey := w.nullifyingKey()

	for _, leaf := range leaves {
		npk, token, value, random, ok := w.tryDecrypt(leaf.Commitment, viewingSeed)
		if !ok {
			w.log.WithFields(logrus.Fields{
				"tree":     tree,
				"position": leaf.Position,
			}).Debug("leaf not addressed to this wallet")
			continue
		}

		txo := StoredTXO{
			Tree:          tree,
			Position:      leaf.Position,
			TxID:          leaf.Commitment.TxID,
			Nullifier:     note.GetNullifier(nullifyingKey, leaf.Position),
			NotePublicKey: npk,
			Token:         token,
			Value:         value,
			Random:        random,
		}

		if err := w.putTXO(ctx, chainID, txo); err != nil {
			return claimed, err
		}
		claimed = true
	}

	return claimed, nil
}

// tryDecrypt attempts to recover a leaf's note fields, dispatching on
// its commitment kind per §4.4 steps 1-2.
func (w *Wallet) tryDecrypt(c note.Commitment, viewingSeed []byte) (npk types.Hash, token types.TokenID, value uint64, random [types.RandomSize]byte, ok bool) {
	switch c.Kind {
	case note.KindEncrypted:
		ephemeralPub, err := crypto.PointFromHash(c.EphemeralKeys[0])
		if err != nil {
			return
		}
		sk := crypto.ScalarFromSeed(viewingSeed)
		shared := crypto.ECDH(sk, ephemeralPub)

		partial, err := note.Decrypt(c.Ciphertext, shared.Bytes())
		if err != nil {
			return
		}
		return partial.NotePublicKey(), partial.Token, partial.Value, partial.Random, true

	case note.KindPreimage:
		r, err := note.DecryptRandom(c.EncryptedRandom, viewingSeed)
		if err != nil {
			return
		}
		return c.Preimage.NotePublicKey, c.Preimage.Token, c.Preimage.Value, r, true

	default:
		return
	}
}

// TXOs range-scans this wallet's namespace for chainID, deserializing
// every stored record and, for each still-unspent one, checking the
// nullifier index; a hit sets spendtxid and persists it, per §4.4.
func (w *Wallet) TXOs(ctx context.Context, chainID types.ChainID) ([]StoredTXO, error) {
	prefix := txoNamespace(w.id, chainID)
	keys, errs := w.store.StreamNamespace(ctx, prefix)

	var out []StoredTXO
	for key := range keys {
		// The per-chain WalletDetails record lives at the namespace key
		// itself; only (tree, position) children are TXOs.
		if len(key) != len(prefix)+2 {
			continue
		}
		data, err := w.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("wallet: load txo %v: %w", key, err)
		}
		txo, err := unmarshalTXO(data)
		if err != nil {
			return nil, err
		}

		if txo.SpendTxID == nil && w.nullifiers != nil {
			spendTxID, spent, err := w.nullifiers.GetNullified(ctx, txo.Nullifier)
			if err != nil {
				return nil, fmt.Errorf("wallet: check nullifier: %w", err)
			}
			if spent {
				txo.SpendTxID = &spendTxID
				if err := w.putTXO(ctx, chainID, txo); err != nil {
					return nil, err
				}
			}
		}

		out = append(out, txo)
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("wallet: stream txos: %w", err)
	}

	return out, nil
}

// Balances aggregates unspent TXOs per token into a TreeBalance,
// ignoring tree boundaries, per §4.4.
func (w *Wallet) Balances(ctx context.Context, chainID types.ChainID) (Balances, error) {
	txos, err := w.TXOs(ctx, chainID)
	if err != nil {
		return nil, err
	}

	balances := make(Balances)
	for _, txo := range txos {
		if txo.SpendTxID != nil {
			continue
		}
		tb := balances[txo.Token]
		tb.Token = txo.Token
		tb.Balance += txo.Value
		tb.UTXOs = append(tb.UTXOs, txo)
		balances[txo.Token] = tb
	}
	return balances, nil
}

// BalancesByTree partitions unspent TXOs by token and then by tree,
// per §4.4.
func (w *Wallet) BalancesByTree(ctx context.Context, chainID types.ChainID) (BalancesByTree, error) {
	txos, err := w.TXOs(ctx, chainID)
	if err != nil {
		return nil, err
	}

	perToken := make(map[types.TokenID]map[types.TreeNumber]*TreeBalance)
	for _, txo := range txos {
		if txo.SpendTxID != nil {
			continue
		}
		trees, ok := perToken[txo.Token]
		if !ok {
			trees = make(map[types.TreeNumber]*TreeBalance)
			perToken[txo.Token] = trees
		}
		tb, ok := trees[txo.Tree]
		if !ok {
			tb = &TreeBalance{Tree: txo.Tree, Token: txo.Token}
			trees[txo.Tree] = tb
		}
		tb.Balance += txo.Value
		tb.UTXOs = append(tb.UTXOs, txo)
	}

	out := make(BalancesByTree, len(perToken))
	for token, trees := range perToken {
		maxTree := types.TreeNumber(0)
		for tree := range trees {
			if tree > maxTree {
				maxTree = tree
			}
		}
		list := make([]TreeBalance, 0, len(trees))
		for tree := types.TreeNumber(0); tree <= maxTree; tree++ {
			if tb, ok := trees[tree]; ok {
				list = append(list, *tb)
			}
		}
		out[token] = list
	}
	return out, nil
}

// Scan performs a per-chain incremental scan: for each tree (in
// ascending index), it fetches leaves beyond the persisted scanned
// height from fetch, decrypts what it can, and advances
// treeScannedHeights. A concurrent Scan call on the same chain is a
// no-op, per §5's per-chain scan lock.
func (w *Wallet) Scan(ctx context.Context, chainID types.ChainID, treeCount types.TreeNumber, fetch func(ctx context.Context, tree types.TreeNumber, fromHeight uint32) ([]Leaf, error)) error {
	lock := w.scanLock(chainID)
	if !lock.TryLock() {
		return nil
	}
	defer lock.Unlock()

	details, err := w.loadDetails(ctx, chainID)
	if err != nil {
		return err
	}

	for tree := types.TreeNumber(0); tree < treeCount; tree++ {
		from := scannedHeight(details, tree)

		leaves, err := fetch(ctx, tree, from)
		if err != nil {
			return fmt.Errorf("wallet: fetch leaves: %w", err)
		}
		if len(leaves) == 0 {
			continue
		}

		if _, err := w.ScanLeaves(ctx, leaves, tree, chainID); err != nil {
			return err
		}

		// Per §9 Open Question 2: reproduced exactly, including the
		// apparent off-by-one relative to "number of scanned leaves".
		newHeight := 0
		if len(leaves) > 0 {
			newHeight = len(leaves) - 1
		}
		if newHeight < 0 {
			newHeight = 0
		}
		details = setScannedHeight(details, tree, uint32(newHeight))

		if err := w.saveDetails(ctx, chainID, details); err != nil {
			return err
		}
	}

	return nil
}
