package safemode

import "github.com/richmills3/bitcoin-sv/pkg/chain"

// excludeIgnoredBlocks walks a fork from tip to base honouring the operator
// ignore flags and returns the effective tip to classify. Returns nil when
// the base itself is ignored, suppressing the entire fork; otherwise the fork
// is truncated at the parent of the deepest ignored block, exposing only the
// un-ignored prefix between the base and that block.
func excludeIgnoredBlocks(forkTip, forkBase *chain.BlockIndex) *chain.BlockIndex {
	var lastIgnored *chain.BlockIndex

	stop := forkBase.Parent
	for walk := forkTip; walk != stop; walk = walk.Parent {
		if walk.IgnoredForSafeMode {
			lastIgnored = walk
		}
	}

	if lastIgnored == nil {
		return forkTip
	}
	if lastIgnored == forkBase {
		return nil
	}
	return lastIgnored.Parent
}
