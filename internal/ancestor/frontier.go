package ancestor

import (
	"context"

	"github.com/danmuck/chainstream/internal/protocol/block"
)

// Puller yields blocks of one chain in descendant-to-ancestor order and io.EOF once the
// chain is exhausted. *blockstream.Stream satisfies it.
type Puller interface {
	Next(ctx context.Context) (block.Block, error)
}

// Frontier is the cursor of one chain: the most recently pulled block.
type Frontier struct {
	Index     int
	Current   block.Block
	Exhausted bool
	Pulls     int
}

func newFrontiers(n int) []Frontier {
	out := make([]Frontier, n)
	for i := range out {
		out[i].Index = i
	}
	return out
}

// converged reports whether every frontier sits on one height with one parent hash.
func converged(frontiers []Frontier) bool {
	first := frontiers[0].Current
	for _, f := range frontiers[1:] {
		if f.Current.Number != first.Number || f.Current.ParentHash != first.ParentHash {
			return false
		}
	}
	return true
}

// lagging returns, in index order, the frontiers at the highest current height: the chains
// that have not rewound down to the others yet. When every frontier shares one height
// (and the hashes disagree) all of them are returned.
func lagging(frontiers []Frontier) []int {
	top := frontiers[0].Current.Number
	for _, f := range frontiers[1:] {
		top = max(top, f.Current.Number)
	}
	idx := make([]int, 0, len(frontiers))
	for i, f := range frontiers {
		if f.Current.Number == top {
			idx = append(idx, i)
		}
	}
	return idx
}
