// Package merkletree implements the append-only, fixed-depth
// Poseidon-hashed commitment tree: a write cache, a mutex-guarded
// update queue, and per-tree length bookkeeping (§4.2).
package merkletree

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/pkg/types"
)

// Depth is the default fixed depth of the commitment tree.
const Depth = 16

// Errors surfaced by tree operations.
var (
	ErrInvalidStartIndex = errors.New("merkletree: queued batch does not start at tree length")
	ErrRootMismatch      = errors.New("merkletree: computed root does not match expected on-chain root")
)

// Store is the persistence contract a CommitmentTree consumes: node
// storage keyed by (level, index), plus a cached leaf count per tree.
// Implementations are expected to be namespaced per (chainID, purpose,
// tree) by the caller, mirroring §6's
// (chainId, "merkletree-<purpose>", tree, level, index) layout.
type Store interface {
	GetNode(ctx context.Context, level uint32, index uint64) (types.Hash, bool, error)
	SetNodes(ctx context.Context, nodes map[NodeKey]types.Hash) error
	GetLength(ctx context.Context) (uint64, error)
	SetLength(ctx context.Context, length uint64) error
}

// NodeKey addresses one persisted tree node.
type NodeKey struct {
	Level uint32
	Index uint64
}

// snarkPrime is the BN254 scalar field modulus.
var snarkPrime, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// merkleZeroSeed is hashed to derive the level-0 empty-leaf value, per
// §3's MERKLE_ZERO_VALUE = keccak256(seed) mod SNARK_PRIME.
const merkleZeroSeed = "Railgun"

// zeroValue is the precomputed level-0 empty leaf.
var zeroValue = computeZeroValue()

func computeZeroValue() types.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(merkleZeroSeed))
	sum := h.Sum(nil)
	n := new(big.Int).SetBytes(sum)
	n.Mod(n, snarkPrime)
	return types.HashFromBytes(n.Bytes())
}

// zeroValues[level] is the empty-subtree root at that level, computed
// once and reused by every tree instance.
var zeroValues = computeZeroValues(Depth)

func computeZeroValues(depth int) []types.Hash {
	zv := make([]types.Hash, depth+1)
	zv[0] = zeroValue
	for lvl := 1; lvl <= depth; lvl++ {
		zv[lvl] = crypto.HashPair(zv[lvl-1], zv[lvl-1])
	}
	return zv
}

// ZeroValue returns the empty-subtree root at level.
func ZeroValue(level int) types.Hash {
	if level < 0 {
		return types.Hash{}
	}
	if level < len(zeroValues) {
		return zeroValues[level]
	}
	// Depth override larger than the package default: extend lazily.
	last := zeroValues[len(zeroValues)-1]
	for l := len(zeroValues); l <= level; l++ {
		last = crypto.HashPair(last, last)
	}
	return last
}

// HashLeftRight is the tree's pairing function, Poseidon(l, r).
func HashLeftRight(l, r types.Hash) types.Hash {
	return crypto.HashPair(l, r)
}

// queuedBatch is one pending insertion request for a tree.
type queuedBatch struct {
	startIndex uint64
	leaves     []types.Hash
}

// CommitmentTree is one append-only Poseidon-hashed tree: a write
// cache at the leaf and ancestor levels, a FIFO-ish queue of pending
// batches keyed by their declared start index, and a single boolean
// lock serializing the update loop, per §4.2's state machine.
type CommitmentTree struct {
	depth int
	store Store
	log   *logrus.Entry

	mu         sync.Mutex // guards queue, writeCache, length
	queue      []queuedBatch
	writeCache map[NodeKey]types.Hash
	length     uint64
	lengthSet  bool

	queueLock sync.Mutex // serializes updateTrees, per §5
}

// New creates a CommitmentTree of the given depth (Depth if zero)
// backed by store.
func New(store Store, depth int, log *logrus.Entry) *CommitmentTree {
	if depth == 0 {
		depth = Depth
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CommitmentTree{
		depth:      depth,
		store:      store,
		log:        log,
		writeCache: make(map[NodeKey]types.Hash),
	}
}

// GetTreeLength returns the cached leaf count, refreshing from the
// store on first use.
func (t *CommitmentTree) GetTreeLength(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshLengthLocked(ctx)
}

func (t *CommitmentTree) refreshLengthLocked(ctx context.Context) (uint64, error) {
	if t.lengthSet {
		return t.length, nil
	}
	n, err := t.store.GetLength(ctx)
	if err != nil {
		return 0, fmt.Errorf("merkletree: get length: %w", err)
	}
	t.length = n
	t.lengthSet = true
	return t.length, nil
}

// GetNode returns the persisted node at (level, index), or the
// level's empty-subtree value if absent, per §4.2.
func (t *CommitmentTree) GetNode(ctx context.Context, level uint32, index uint64) (types.Hash, error) {
	t.mu.Lock()
	if cached, ok := t.writeCache[NodeKey{Level: level, Index: index}]; ok {
		t.mu.Unlock()
		return cached, nil
	}
	t.mu.Unlock()

	v, ok, err := t.store.GetNode(ctx, level, index)
	if err != nil {
		return types.Hash{}, fmt.Errorf("merkletree: get node: %w", err)
	}
	if !ok {
		t.log.WithFields(logrus.Fields{"level": level, "index": index}).
			Debug("node absent, using zero value")
		return ZeroValue(int(level)), nil
	}
	return v, nil
}

// GetRoot returns the tree's current root, GetNode(depth, 0).
func (t *CommitmentTree) GetRoot(ctx context.Context) (types.Hash, error) {
	return t.GetNode(ctx, uint32(t.depth), 0)
}

// QueueLeaves enqueues a leaf batch starting at startingIndex and
// triggers UpdateTrees. A caller mid-update simply deposits into the
// queue and returns; the owning updater picks it up on its next loop
// turn, per §4.2/§5.
func (t *CommitmentTree) QueueLeaves(ctx context.Context, leaves []types.Hash, startingIndex uint64) error {
	t.mu.Lock()
	t.queue = append(t.queue, queuedBatch{startIndex: startingIndex, leaves: leaves})
	t.mu.Unlock()

	return t.UpdateTrees(ctx)
}

// UpdateTrees drains the queue, inserting each batch whose start
// index matches the tree's current length, until no further batch is
// immediately applicable. Concurrent callers serialize on queueLock;
// re-entrant calls during an in-progress update return immediately
// once they have deposited their batch (done by the caller, in
// QueueLeaves, before reaching here).
func (t *CommitmentTree) UpdateTrees(ctx context.Context) error {
	if !t.queueLock.TryLock() {
		// Another goroutine owns the update loop; it will observe
		// whatever we just queued on its next iteration.
		return nil
	}
	defer t.queueLock.Unlock()

	for {
		applied, err := t.applyOneReadyBatch(ctx)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
	}
}

// applyOneReadyBatch inserts at most one queued batch whose start
// index equals the tree's current length, discarding stale entries
// (start index below current length) along the way.
func (t *CommitmentTree) applyOneReadyBatch(ctx context.Context) (bool, error) {
	t.mu.Lock()
	length, err := t.refreshLengthLocked(ctx)
	if err != nil {
		t.mu.Unlock()
		return false, err
	}

	var (
		next      *queuedBatch
		remaining []queuedBatch
	)
	for i := range t.queue {
		b := t.queue[i]
		switch {
		case next != nil:
			remaining = append(remaining, b)
		case b.startIndex < length:
			// Stale: already applied or superseded. Discard.
			continue
		case b.startIndex == length:
			nb := b
			next = &nb
		default:
			// Not yet reachable; hold it for a later turn.
			remaining = append(remaining, b)
		}
	}
	t.queue = remaining
	t.mu.Unlock()

	if next == nil {
		return false, nil
	}

	if err := t.InsertLeaves(ctx, next.leaves, next.startIndex); err != nil {
		return false, err
	}
	return true, nil
}

// InsertLeaves inserts leaves contiguously at startIndex, recomputes
// every ancestor, and commits the whole batch via a single store
// write, per §4.2's algorithm.
func (t *CommitmentTree) InsertLeaves(ctx context.Context, leaves []types.Hash, startIndex uint64) error {
	if len(leaves) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.refreshLengthLocked(ctx); err != nil {
		return err
	}

	cache := make(map[NodeKey]types.Hash, len(leaves)*2)
	for i, leaf := range leaves {
		cache[NodeKey{Level: 0, Index: startIndex + uint64(i)}] = leaf
	}

	lo := startIndex
	hi := startIndex + uint64(len(leaves)) - 1

	for level := 0; level < t.depth; level++ {
		nextLo, nextHi := lo>>1, hi>>1
		for idx := nextLo; idx <= nextHi; idx++ {
			leftKey := NodeKey{Level: uint32(level), Index: idx * 2}
			rightKey := NodeKey{Level: uint32(level), Index: idx*2 + 1}

			left, err := t.lookupLocked(ctx, cache, leftKey)
			if err != nil {
				return err
			}
			right, err := t.lookupLocked(ctx, cache, rightKey)
			if err != nil {
				return err
			}

			parentKey := NodeKey{Level: uint32(level + 1), Index: idx}
			cache[parentKey] = HashLeftRight(left, right)
		}
		lo, hi = nextLo, nextHi
	}

	if err := t.store.SetNodes(ctx, cache); err != nil {
		return fmt.Errorf("merkletree: batched write: %w", err)
	}

	newLength := startIndex + uint64(len(leaves))
	if err := t.store.SetLength(ctx, newLength); err != nil {
		return fmt.Errorf("merkletree: set length: %w", err)
	}
	t.length = newLength
	t.lengthSet = true

	// Write cache is scoped to this insertion only; release it now
	// that the batch is flushed.
	for k := range cache {
		delete(t.writeCache, k)
	}

	return nil
}

// lookupLocked resolves a node from the in-flight insertion cache,
// falling back to the persisted store, and finally to the level's
// zero value. Caller holds t.mu.
func (t *CommitmentTree) lookupLocked(ctx context.Context, cache map[NodeKey]types.Hash, key NodeKey) (types.Hash, error) {
	if v, ok := cache[key]; ok {
		return v, nil
	}
	v, ok, err := t.store.GetNode(ctx, key.Level, key.Index)
	if err != nil {
		return types.Hash{}, fmt.Errorf("merkletree: get node: %w", err)
	}
	if !ok {
		return ZeroValue(int(key.Level)), nil
	}
	return v, nil
}

// ValidateRoot checks a freshly computed root against the on-chain
// expectation, surfacing a mismatch as a validation error the scanner
// should treat as a stop signal for that tree, per §4.2's failure
// handling.
func (t *CommitmentTree) ValidateRoot(ctx context.Context, expected types.Hash) error {
	got, err := t.GetRoot(ctx)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: got %s want %s", ErrRootMismatch, got, expected)
	}
	return nil
}
