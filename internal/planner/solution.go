package planner

import (
	"github.com/ccoin/shield/internal/note"
	"github.com/ccoin/shield/internal/wallet"
	"github.com/ccoin/shield/pkg/types"
)

// SpendingSolutionGroup is one circuit invocation's worth of input
// UTXOs and output notes within a single tree, per §3.
type SpendingSolutionGroup struct {
	SpendingTree  types.TreeNumber
	UTXOs         []wallet.StoredTXO
	Outputs       []note.Note
	WithdrawValue uint64
}

// CreateSpendingSolutionGroupsForOutput satisfies a single output from
// treeBalances (a per-token list of TreeBalance, sorted by tree
// index), spending across as many trees as needed. Selected UTXOs are
// reserved in excluded for the caller's benefit across outputs.
// Raises ErrConsolidateBalances if the output cannot be fully
// satisfied from the given trees, per §4.5.
func CreateSpendingSolutionGroupsForOutput(treeBalances []wallet.TreeBalance, output note.Note, excluded Excluded) ([]SpendingSolutionGroup, error) {
	required := output.Value
	left := required

	var groups []SpendingSolutionGroup
	for _, tb := range treeBalances {
		for left > 0 {
			batch, ok, err := FindNextSolutionBatch(tb, left, excluded)
			if err != nil {
				return nil, err
			}
			if !ok {
				break // this tree is exhausted; try the next one
			}
			excluded.Add(batch)

			totalSpend := sumValue(batch)
			solutionValue := totalSpend
			if solutionValue > left {
				solutionValue = left
			}

			outNote := output
			outNote.Value = solutionValue

			groups = append(groups, SpendingSolutionGroup{
				SpendingTree:  tb.Tree,
				UTXOs:         batch,
				Outputs:       []note.Note{outNote},
				WithdrawValue: 0,
			})

			if totalSpend >= left {
				left = 0
			} else {
				left -= totalSpend
			}
		}
		if left == 0 {
			break
		}
	}

	if left > 0 {
		return nil, ErrConsolidateBalances
	}
	return groups, nil
}

// CreateComplexSatisfyingSpendingSolutionGroups processes outputs in
// order, sharing one excluded set across them. If any output cannot be
// satisfied from the trees' remaining UTXOs, it raises
// ErrConsolidateBalances — the planner is not globally optimal across
// many destination addresses, per §4.5's explicit limitation.
//
// When outputs holds exactly one note, any error from
// CreateSpendingSolutionGroupsForOutput (ErrConsolidateBalances or
// ErrInvalidNullifierCount) is returned as ErrComplexCircuit instead,
// per §8 scenario 5.
func CreateComplexSatisfyingSpendingSolutionGroups(treeBalances []wallet.TreeBalance, outputs []note.Note, excluded Excluded) ([]SpendingSolutionGroup, error) {
	var all []SpendingSolutionGroup
	for _, output := range outputs {
		groups, err := CreateSpendingSolutionGroupsForOutput(treeBalances, output, excluded)
		if err != nil {
			if len(outputs) == 1 {
				return nil, ErrComplexCircuit
			}
			return nil, err
		}
		all = append(all, groups...)
	}
	return all, nil
}
