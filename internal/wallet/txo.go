package wallet

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ccoin/shield/internal/kv"
	"github.com/ccoin/shield/pkg/types"
)

// StoredTXO is the persisted record of a discovered note, per §3:
// tree/position locate it in the commitment tree, txid/spendtxid
// track its creating and (optional) spending transactions, and note
// carries the decrypted note fields needed to recompute its value and
// nullifier.
type StoredTXO struct {
	Tree          types.TreeNumber
	Position      types.Position
	TxID          types.TxID
	SpendTxID     *types.TxID
	Nullifier     types.Hash
	NotePublicKey types.Hash
	Token         types.TokenID
	Value         uint64
	Random        [types.RandomSize]byte
}

// txoWire is the on-disk msgpack shape of a StoredTXO, keeping field
// names stable independent of the in-memory struct's layout (§9's
// "serialize with a stable schema, not reflection").
type txoWire struct {
	Tree          uint32  `msgpack:"tree"`
	Position      uint32  `msgpack:"position"`
	TxID          []byte  `msgpack:"txid"`
	SpendTxID     []byte  `msgpack:"spendtxid"`
	Nullifier     []byte  `msgpack:"nullifier"`
	NotePublicKey []byte  `msgpack:"npk"`
	Token         []byte  `msgpack:"token"`
	Value         uint64  `msgpack:"value"`
	Random        []byte  `msgpack:"random"`
}

func (t StoredTXO) marshal() ([]byte, error) {
	w := txoWire{
		Tree:          uint32(t.Tree),
		Position:      uint32(t.Position),
		TxID:          t.TxID[:],
		Nullifier:     t.Nullifier[:],
		NotePublicKey: t.NotePublicKey[:],
		Token:         t.Token[:],
		Value:         t.Value,
		Random:        t.Random[:],
	}
	if t.SpendTxID != nil {
		w.SpendTxID = t.SpendTxID[:]
	}
	return msgpack.Marshal(&w)
}

func unmarshalTXO(data []byte) (StoredTXO, error) {
	var w txoWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return StoredTXO{}, fmt.Errorf("wallet: unmarshal txo: %w", err)
	}

	out := StoredTXO{
		Tree:          types.TreeNumber(w.Tree),
		Position:      types.Position(w.Position),
		TxID:          types.TxID(types.HashFromBytes(w.TxID)),
		Nullifier:     types.HashFromBytes(w.Nullifier),
		NotePublicKey: types.HashFromBytes(w.NotePublicKey),
		Token:         types.TokenIDFromBytes(w.Token),
		Value:         w.Value,
	}
	copy(out.Random[:], w.Random)
	if len(w.SpendTxID) > 0 {
		id := types.TxID(types.HashFromBytes(w.SpendTxID))
		out.SpendTxID = &id
	}
	return out, nil
}

// txoKey is the ("wallet", walletId, chainId, tree, position) key of §6.
func txoKey(walletID types.Hash, chainID types.ChainID, tree types.TreeNumber, position types.Position) kv.Key {
	return kv.Key{
		"wallet",
		kv.HexComponent(walletID[:]),
		kv.HexComponent(uint64Bytes(uint64(chainID))),
		kv.HexComponent(uint32Bytes(uint32(tree))),
		kv.HexComponent(uint32Bytes(uint32(position))),
	}
}

// txoNamespace is the prefix under which every TXO of a
// (walletID, chainID) pair lives, used for range-scanning.
func txoNamespace(walletID types.Hash, chainID types.ChainID) kv.Key {
	return kv.Key{"wallet", kv.HexComponent(walletID[:]), kv.HexComponent(uint64Bytes(uint64(chainID)))}
}

// putTXO writes a StoredTXO. Persistence is idempotent by construction:
// the same (tree, position) always produces the same key, so a
// re-scan simply overwrites with identical content (§4.4's contract).
func (w *Wallet) putTXO(ctx context.Context, chainID types.ChainID, txo StoredTXO) error {
	data, err := txo.marshal()
	if err != nil {
		return fmt.Errorf("wallet: marshal txo: %w", err)
	}
	key := txoKey(w.id, chainID, txo.Tree, txo.Position)
	if err := w.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("wallet: put txo: %w", err)
	}
	return nil
}
