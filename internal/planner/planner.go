// Package planner implements the spending-solution coin-selection
// algorithm (§4.5): a pure, synchronous search for input-UTXO sets
// whose cardinality is one of the circuit's allowed nullifier counts,
// grouped against a list of desired outputs. No I/O; every function
// here operates purely on its arguments, grounded on the teacher's
// economics/fees.go windowed-accumulator style (slice scan + running
// sum) generalized to a feasibility search.
package planner

import (
	"errors"
	"sort"

	"github.com/ccoin/shield/internal/wallet"
	"github.com/ccoin/shield/pkg/types"
)

// Errors surfaced to callers, matching §6's exact user-visible text.
var (
	ErrConsolidateBalances = errors.New("please consolidate balances before multi-sending, unable to find a valid spending solution")
	ErrComplexCircuit      = errors.New("this transaction requires a complex circuit for multi-sending, which is not supported")
	ErrInvalidNullifierCount = errors.New("invalid nullifier count")
)

// ValidNullifierCounts is V = {1, 2, 8}, the fixed set of input
// cardinalities the zk circuit accepts for a single spending group.
var ValidNullifierCounts = []int{1, 2, 8}

// isValidNullifierCount reports whether n is a member of V.
func isValidNullifierCount(n int) bool {
	for _, v := range ValidNullifierCounts {
		if v == n {
			return true
		}
	}
	return false
}

// NextNullifierTarget returns min{v ∈ V : v > n}, or ok=false if n is
// already ≥ max(V).
func NextNullifierTarget(n int) (target int, ok bool) {
	best := 0
	found := false
	for _, v := range ValidNullifierCounts {
		if v > n && (!found || v < best) {
			best = v
			found = true
		}
	}
	return best, found
}

// SortUTXOsBySize sorts a copy of utxos descending by value, ties
// broken by stable order; a zero-value UTXO sorts last.
func SortUTXOsBySize(utxos []wallet.StoredTXO) []wallet.StoredTXO {
	out := make([]wallet.StoredTXO, len(utxos))
	copy(out, utxos)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// ShouldAddMoreUTXOsForSolutionBatch decides whether the accumulator
// (spending, of cardinality k, summing to s) should keep absorbing
// UTXOs from an N-entry candidate pool to satisfy required, per §4.5.
func ShouldAddMoreUTXOsForSolutionBatch(spending []wallet.StoredTXO, all []wallet.StoredTXO, required uint64) bool {
	s := sumValue(spending)
	k := len(spending)
	n := len(all)

	if s >= required {
		return !isValidNullifierCount(k)
	}

	// No further valid count is reachable from here: stop regardless of
	// whether k itself is already valid. A caller landing on an invalid
	// k this way gets ErrInvalidNullifierCount from FindNextSolutionBatch.
	target, ok := NextNullifierTarget(k)
	if !ok || target > n {
		return false
	}
	return true
}

func sumValue(utxos []wallet.StoredTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

// txoIdentity identifies one StoredTXO for exclusion-set purposes: a
// txid alone is not unique (a transaction can create several notes),
// so identity is (tree, position).
type txoIdentity struct {
	Tree     types.TreeNumber
	Position types.Position
}

func identityOf(u wallet.StoredTXO) txoIdentity {
	return txoIdentity{Tree: u.Tree, Position: u.Position}
}

// Excluded is the request-scoped set of already-reserved UTXOs shared
// across a multi-output planning pass, per §9's "request-scoped
// workbench" note — a set, not global state, owned by the caller.
type Excluded map[txoIdentity]struct{}

// NewExcluded returns an empty exclusion set.
func NewExcluded() Excluded {
	return make(Excluded)
}

// Add reserves utxos against future selection.
func (e Excluded) Add(utxos []wallet.StoredTXO) {
	for _, u := range utxos {
		e[identityOf(u)] = struct{}{}
	}
}

func (e Excluded) contains(u wallet.StoredTXO) bool {
	_, ok := e[identityOf(u)]
	return ok
}

// FindNextSolutionBatch filters treeBalance's UTXOs against excluded,
// sorts by size descending, and accumulates from the front while
// ShouldAddMoreUTXOsForSolutionBatch says to keep going. Returns
// ok=false if no non-excluded UTXOs remain. Returns
// ErrInvalidNullifierCount if the resulting cardinality is not in V —
// an internal invariant violation, never expected in practice.
func FindNextSolutionBatch(treeBalance wallet.TreeBalance, required uint64, excluded Excluded) ([]wallet.StoredTXO, bool, error) {
	var candidates []wallet.StoredTXO
	for _, u := range treeBalance.UTXOs {
		if !excluded.contains(u) {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	sorted := SortUTXOsBySize(candidates)

	var batch []wallet.StoredTXO
	for _, u := range sorted {
		batch = append(batch, u)
		if !ShouldAddMoreUTXOsForSolutionBatch(batch, sorted, required) {
			break
		}
	}

	// A lone zero-value UTXO is never a valid solution group (§3's
	// invariant); treat it the same as "nothing left to spend".
	if len(batch) == 1 && batch[0].Value == 0 {
		return nil, false, nil
	}

	if !isValidNullifierCount(len(batch)) {
		return nil, false, ErrInvalidNullifierCount
	}
	return batch, true, nil
}
