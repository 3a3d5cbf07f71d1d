package safemode

import (
	"sort"

	"github.com/richmills3/bitcoin-sv/pkg/chain"
)

// Fork groups the known tips of one branch off the active chain
type Fork struct {
	Base  *chain.BlockIndex
	Tips  []*chain.BlockIndex
	Level Level // most severe classification among the tips
}

// Result is a snapshot of the safe-mode assessment produced by one check
type Result struct {
	ActiveTip *chain.BlockIndex
	Forks     map[*chain.BlockIndex]*Fork // keyed by fork base
	MaxLevel  Level
}

func newResult(activeTip *chain.BlockIndex) *Result {
	return &Result{
		ActiveTip: activeTip,
		Forks:     make(map[*chain.BlockIndex]*Fork),
		MaxLevel:  LevelNone,
	}
}

// addFork records one classified fork, grouping tips that share a base
func (r *Result) addFork(forkTip, forkBase *chain.BlockIndex, level Level) {
	r.MaxLevel = r.MaxLevel.Max(level)

	f := r.Forks[forkBase]
	if f == nil {
		f = &Fork{Base: forkBase}
		r.Forks[forkBase] = f
	}
	f.Tips = append(f.Tips, forkTip)
	f.Level = f.Level.Max(level)
}

// sortedForks returns the forks ordered by base: height ascending, then hash.
// Tips within each fork are ordered the same way. The order is stable across
// runs for equal inputs.
func (r *Result) sortedForks() []*Fork {
	forks := make([]*Fork, 0, len(r.Forks))
	for _, f := range r.Forks {
		sort.Slice(f.Tips, func(i, j int) bool { return f.Tips[i].Less(f.Tips[j]) })
		forks = append(forks, f)
	}
	sort.Slice(forks, func(i, j int) bool { return forks[i].Base.Less(forks[j].Base) })
	return forks
}

// Equal compares two results by durable identity (block hashes), so a cached
// result stays meaningful across block-index churn. nil is treated as an
// absent result, unequal to everything.
func (r *Result) Equal(other *Result) bool {
	if r == nil || other == nil {
		return false
	}
	if r.MaxLevel != other.MaxLevel {
		return false
	}
	if (r.ActiveTip == nil) != (other.ActiveTip == nil) {
		return false
	}
	if r.ActiveTip != nil && r.ActiveTip.Hash != other.ActiveTip.Hash {
		return false
	}
	if len(r.Forks) != len(other.Forks) {
		return false
	}

	byBase := make(map[chain.Hash]*Fork, len(other.Forks))
	for _, f := range other.Forks {
		byBase[f.Base.Hash] = f
	}

	for _, f := range r.Forks {
		o, ok := byBase[f.Base.Hash]
		if !ok || f.Level != o.Level || len(f.Tips) != len(o.Tips) {
			return false
		}
		tips := make(map[chain.Hash]bool, len(o.Tips))
		for _, t := range o.Tips {
			tips[t.Hash] = true
		}
		for _, t := range f.Tips {
			if !tips[t.Hash] {
				return false
			}
		}
	}
	return true
}
