package merkletree

import (
	"context"
	"fmt"

	"github.com/ccoin/shield/internal/kv"
	"github.com/ccoin/shield/pkg/types"
)

// KVStore adapts the core's abstract kv.Store to the per-tree Store
// contract a CommitmentTree consumes, namespaced as
// (chainId, "merkletree-<purpose>", tree) per §6's Merkle persistence
// layout. One KVStore instance backs exactly one (chain, purpose, tree)
// triple; callers construct one per CommitmentTree.
type KVStore struct {
	store   kv.Store
	chainID types.ChainID
	purpose string
	tree    types.TreeNumber
}

// NewKVStore returns a merkletree.Store backed by store, scoped to the
// given chain, purpose ("commitments", "nullifiers", ...), and tree
// index.
func NewKVStore(store kv.Store, chainID types.ChainID, purpose string, tree types.TreeNumber) *KVStore {
	return &KVStore{store: store, chainID: chainID, purpose: purpose, tree: tree}
}

func (s *KVStore) nodeKey(level uint32, index uint64) kv.Key {
	return kv.Key{
		kv.HexComponent(uint64Bytes(uint64(s.chainID))),
		"merkletree-" + s.purpose,
		kv.HexComponent(uint32Bytes(uint32(s.tree))),
		kv.HexComponent(uint32Bytes(level)),
		kv.HexComponent(uint64Bytes(index)),
	}
}

func (s *KVStore) lengthKey() kv.Key {
	return kv.Key{
		kv.HexComponent(uint64Bytes(uint64(s.chainID))),
		"merkletree-" + s.purpose,
		kv.HexComponent(uint32Bytes(uint32(s.tree))),
		"length",
	}
}

func (s *KVStore) GetNode(ctx context.Context, level uint32, index uint64) (types.Hash, bool, error) {
	data, err := s.store.Get(ctx, s.nodeKey(level, index))
	if err == kv.ErrNotFound {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, fmt.Errorf("merkletree/kvstore: get node: %w", err)
	}
	return types.HashFromBytes(data), true, nil
}

func (s *KVStore) SetNodes(ctx context.Context, nodes map[NodeKey]types.Hash) error {
	ops := make([]kv.Op, 0, len(nodes))
	for key, value := range nodes {
		ops = append(ops, kv.Op{Key: s.nodeKey(key.Level, key.Index), Value: value.Bytes()})
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("merkletree/kvstore: set nodes: %w", err)
	}
	return nil
}

func (s *KVStore) GetLength(ctx context.Context) (uint64, error) {
	data, err := s.store.Get(ctx, s.lengthKey())
	if err == kv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("merkletree/kvstore: get length: %w", err)
	}
	return bytesToUint64(data), nil
}

func (s *KVStore) SetLength(ctx context.Context, length uint64) error {
	if err := s.store.Put(ctx, s.lengthKey(), uint64Bytes(length)); err != nil {
		return fmt.Errorf("merkletree/kvstore: set length: %w", err)
	}
	return nil
}

func uint32Bytes(n uint32) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func uint64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(n >> (8 * uint(i)))
	}
	return b
}

func bytesToUint64(b []byte) uint64 {
	var n uint64
	for _, v := range b {
		n = n<<8 | uint64(v)
	}
	return n
}
