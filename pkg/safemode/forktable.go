package safemode

import (
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
)

// forkTable maps each known fork tip to the first block of its branch off
// the active chain. Invariants, restored after every monitor pass:
//   - no key is on the active chain
//   - walking parents from a tip reaches its base without crossing the
//     active chain
//   - the base's parent is inside the relevance window, or has no parent
//
// All access is guarded by the monitor's fork-table lock; walks over the DAG
// additionally require the chain lock.
type forkTable struct {
	forks map[*chain.BlockIndex]*chain.BlockIndex
}

func newForkTable() *forkTable {
	return &forkTable{forks: make(map[*chain.BlockIndex]*chain.BlockIndex)}
}

func (t *forkTable) len() int {
	return len(t.forks)
}

// containsBlock reports whether the block lies on any tracked fork between a
// tip and its base, inclusive
func (t *forkTable) containsBlock(b *chain.BlockIndex) bool {
	for tip, base := range t.forks {
		for walk := tip; walk != nil; walk = walk.Parent {
			if walk == b {
				return true
			}
			if walk == base {
				break
			}
		}
	}
	return false
}

// minRelevantHeight is the floor of the relevance window below the active tip
func minRelevantHeight(cfg *config.SafeModeConfig, c *chain.ChainState) int64 {
	var tipHeight int64
	if tip := c.Tip(); tip != nil {
		tipHeight = tip.Height
	}
	if tipHeight < cfg.MaxForkDistance {
		return 0
	}
	return tipHeight - cfg.MaxForkDistance
}

// insertNew registers a newly known block. Idempotent: blocks on the active
// chain, blocks already part of a tracked fork, and direct extensions of the
// active tip are all no-ops.
func (t *forkTable) insertNew(cfg *config.SafeModeConfig, c *chain.ChainState, newIdx *chain.BlockIndex) {
	if c.Contains(newIdx) || t.containsBlock(newIdx) {
		return
	}

	if tip := c.Tip(); tip != nil && newIdx.Parent == tip {
		return
	}

	// Extending an existing fork moves that fork's tip forward
	if newIdx.Parent != nil {
		if base, ok := t.forks[newIdx.Parent]; ok {
			delete(t.forks, newIdx.Parent)
			t.forks[newIdx] = base
			return
		}
	}

	// A new fork: walk back until the parent is on the active chain. The
	// walk stops at the relevance window or at a parentless block, in which
	// case nothing is tracked.
	minHeight := minRelevantHeight(cfg, c)
	for walk := newIdx; walk != nil && walk.Height >= minHeight; walk = walk.Parent {
		if walk.Parent == nil {
			break
		}
		if c.Contains(walk.Parent) {
			t.forks[newIdx] = walk
			break
		}
	}
}

// revalidate restores the invariants after a tip change without a full
// rebuild: forks absorbed into the active chain are dropped, and bases that
// ended up on the active chain are advanced to the first off-chain block.
func (t *forkTable) revalidate(c *chain.ChainState) {
	for tip, base := range t.forks {
		if c.Contains(tip) {
			delete(t.forks, tip)
			continue
		}

		if c.Contains(base) {
			walk := tip
			for !c.Contains(walk.Parent) {
				walk = walk.Parent
			}
			t.forks[tip] = walk
		}
	}
}

// prune drops forks whose base fell below the relevance window
func (t *forkTable) prune(cfg *config.SafeModeConfig, c *chain.ChainState) {
	minHeight := minRelevantHeight(cfg, c)
	for tip, base := range t.forks {
		if base.Parent != nil && base.Parent.Height < minHeight {
			delete(t.forks, tip)
		}
	}
}

// rebuild recomputes the table from scratch out of the chain's fork tips
func (t *forkTable) rebuild(cfg *config.SafeModeConfig, c *chain.ChainState) {
	t.forks = make(map[*chain.BlockIndex]*chain.BlockIndex)
	for _, tip := range c.ForkTips() {
		t.insertNew(cfg, c, tip)
	}
}
