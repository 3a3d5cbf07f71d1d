package safemode

import (
	"github.com/holiman/uint256"

	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
)

// shouldTriggerSafeMode classifies one fork against the active chain. The
// gates run in order; the first failing gate yields LevelNone. Caller holds
// the chain lock.
func shouldTriggerSafeMode(cfg *config.SafeModeConfig, c *chain.ChainState, forkTip, forkBase *chain.BlockIndex) Level {
	if forkTip == nil || forkBase == nil {
		return LevelNone
	}

	if c.Contains(forkTip) {
		return LevelNone
	}

	activeTip := c.Tip()
	if activeTip == nil {
		return LevelNone
	}

	// Fork length gate: one-block reorgs are routine, short forks never
	// trigger safe mode
	if forkTip.Height < forkBase.Height {
		panic("safemode: fork tip below fork base")
	}
	forkLength := forkTip.Height - forkBase.Height + 1
	if forkLength < cfg.MinForkLength {
		return LevelNone
	}

	// Distance gate: forks branching too deep below the active tip are out
	// of the relevance window
	if activeTip.Height < forkBase.Height-1 {
		panic("safemode: fork base above active tip")
	}
	forkBaseDistance := activeTip.Height - (forkBase.Height - 1)
	if forkBaseDistance > cfg.MaxForkDistance {
		return LevelNone
	}

	// Proof-of-work gate: the fork tip must carry at least the active tip's
	// work, offset by MinForkHeightDifference blocks of proof at current
	// difficulty. A negative setting subtracts, saturating at zero.
	margin := uint256.NewInt(absInt64(cfg.MinForkHeightDifference))
	margin.Mul(margin, chain.WorkForBits(activeTip.Bits))

	minWork := new(uint256.Int)
	if cfg.MinForkHeightDifference > 0 {
		minWork.Add(activeTip.ChainWork, margin)
	} else if activeTip.ChainWork.Lt(margin) {
		minWork.Clear()
	} else {
		minWork.Sub(activeTip.ChainWork, margin)
	}

	if forkTip.ChainWork.Lt(minWork) {
		return LevelNone
	}

	status := forkTip.Status
	if status.IsInvalid() {
		return LevelInvalid
	}
	if status.IsValid(chain.ValidityTransactions) && forkTip.ChainTx > 0 {
		return LevelValid
	}
	return LevelUnknown
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
