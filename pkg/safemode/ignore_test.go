package safemode

import "testing"

func TestExcludeIgnoredNoFlags(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 4, testBits)

	if got := excludeIgnoredBlocks(fork[3], fork[0]); got != fork[3] {
		t.Fatal("Without ignore flags the effective tip is the fork tip")
	}
}

func TestExcludeIgnoredTip(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 4, testBits)
	tc.setIgnored(fork[3], true)

	if got := excludeIgnoredBlocks(fork[3], fork[0]); got != fork[2] {
		t.Fatal("Ignoring the tip truncates the fork to its parent")
	}
}

func TestExcludeIgnoredInterior(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 4, testBits)
	tc.setIgnored(fork[2], true)

	if got := excludeIgnoredBlocks(fork[3], fork[0]); got != fork[1] {
		t.Fatal("An interior ignored block truncates everything above it")
	}
}

func TestExcludeIgnoredDeepestWins(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 4, testBits)
	tc.setIgnored(fork[3], true)
	tc.setIgnored(fork[1], true)

	if got := excludeIgnoredBlocks(fork[3], fork[0]); got != fork[0] {
		t.Fatal("The deepest ignored block governs the truncation")
	}
}

func TestExcludeIgnoredBaseSuppressesFork(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 4, testBits)
	tc.setIgnored(fork[0], true)

	if got := excludeIgnoredBlocks(fork[3], fork[0]); got != nil {
		t.Fatal("An ignored base suppresses the entire fork")
	}
}

func TestExcludeIgnoredSingleBlockFork(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(5)
	fork := tc.addHeaders(blocks[2], 1, testBits)
	tc.setIgnored(fork[0], true)

	if got := excludeIgnoredBlocks(fork[0], fork[0]); got != nil {
		t.Fatal("A single ignored block that is its own base suppresses the fork")
	}
}
