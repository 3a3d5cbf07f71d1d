package safemode

import "testing"

func TestClassifyNoForkTipOnActiveChain(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	blocks := tc.buildActiveChain(5)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, blocks[4], blocks[2]); level != LevelNone {
		t.Fatalf("Active-chain tip must classify as NONE, got %s", level)
	}
}

func TestClassifyNilRefs(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	blocks := tc.buildActiveChain(3)
	fork := tc.addHeaders(blocks[1], 3, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, nil, fork[0]); level != LevelNone {
		t.Fatalf("Nil fork tip must classify as NONE, got %s", level)
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, fork[2], nil); level != LevelNone {
		t.Fatalf("Nil fork base must classify as NONE, got %s", level)
	}
}

func TestClassifyLengthGateBoundary(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	cfg.MinForkHeightDifference = -1000 // work gate permissive
	blocks := tc.buildActiveChain(11)

	// Exactly MinForkLength blocks passes the gate
	atLimit := tc.addHeaders(blocks[7], 3, testBits)
	// One short fails it
	tooShort := tc.addHeaders(blocks[7], 2, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, atLimit[2], atLimit[0]); level == LevelNone {
		t.Fatal("Fork of exactly MinForkLength must pass the length gate")
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, tooShort[1], tooShort[0]); level != LevelNone {
		t.Fatalf("Fork below MinForkLength must classify as NONE, got %s", level)
	}
}

func TestClassifyDistanceGateBoundary(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	cfg.MinForkHeightDifference = -1000
	cfg.MaxForkDistance = 6
	blocks := tc.buildActiveChain(11) // tip height 10

	// Base at height 5: distance = 10 - 4 = 6 == MaxForkDistance, passes
	atLimit := tc.addHeaders(blocks[4], 3, testBits)
	// Base at height 4: distance = 10 - 3 = 7 > 6, fails
	tooFar := tc.addHeaders(blocks[3], 3, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, atLimit[2], atLimit[0]); level == LevelNone {
		t.Fatal("Fork at exactly MaxForkDistance must pass the distance gate")
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, tooFar[2], tooFar[0]); level != LevelNone {
		t.Fatalf("Fork beyond MaxForkDistance must classify as NONE, got %s", level)
	}
}

func TestClassifyWorkGatePositive(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	cfg.MinForkHeightDifference = 1
	blocks := tc.buildActiveChain(11) // work 22, block proof 2

	// Heavy fork: base work 10 at height 4, plus 5 heavy blocks of 4 = 30,
	// clears the 22+2 threshold
	heavy := tc.addHeaders(blocks[4], 5, heavyBits)
	// Equal-work fork of the same shape stays below the threshold
	light := tc.addHeaders(blocks[4], 5, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, heavy[4], heavy[0]); level == LevelNone {
		t.Fatal("Fork clearing the work threshold must not classify as NONE")
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, light[4], light[0]); level != LevelNone {
		t.Fatalf("Fork below the work threshold must classify as NONE, got %s", level)
	}
}

func TestClassifyWorkGateSaturating(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	// Margin far larger than total accumulated work: threshold clamps to
	// zero, so any fork with work passes
	cfg.MinForkHeightDifference = -1000000
	blocks := tc.buildActiveChain(11)
	fork := tc.addHeaders(blocks[4], 3, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, fork[2], fork[0]); level == LevelNone {
		t.Fatal("Saturating threshold must clamp at zero and admit the fork")
	}
}

func TestClassifyNegativeMarginSubtracts(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	// Threshold = active work - 4: a fork two blocks shorter still passes,
	// three blocks shorter does not
	cfg.MinForkHeightDifference = -2
	cfg.MinForkLength = 1
	blocks := tc.buildActiveChain(11) // work 22

	pass := tc.addHeaders(blocks[4], 4, testBits) // work 10+8 = 18 >= 18
	fail := tc.addHeaders(blocks[4], 3, testBits) // work 10+6 = 16 < 18

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, pass[3], pass[0]); level == LevelNone {
		t.Fatal("Fork at the subtracted threshold must pass the work gate")
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, fail[2], fail[0]); level != LevelNone {
		t.Fatalf("Fork below the subtracted threshold must classify as NONE, got %s", level)
	}
}

func TestClassifyOutcomes(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	cfg.MinForkHeightDifference = -1000
	blocks := tc.buildActiveChain(11)

	headersOnly := tc.addHeaders(blocks[4], 3, testBits)
	validated := tc.addHeaders(blocks[4], 3, testBits)
	tc.markValidated(validated...)
	invalid := tc.addHeaders(blocks[4], 3, testBits)
	tc.markInvalid(invalid[2])

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if level := shouldTriggerSafeMode(cfg, tc.c, headersOnly[2], headersOnly[0]); level != LevelUnknown {
		t.Fatalf("Headers-only fork must classify as UNKNOWN, got %s", level)
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, validated[2], validated[0]); level != LevelValid {
		t.Fatalf("Validated fork must classify as VALID, got %s", level)
	}
	if level := shouldTriggerSafeMode(cfg, tc.c, invalid[2], invalid[0]); level != LevelInvalid {
		t.Fatalf("Invalid fork must classify as INVALID, got %s", level)
	}
}

func TestClassifyPureFunction(t *testing.T) {
	tc := newTestChain(t)
	cfg := testConfig()
	cfg.MinForkHeightDifference = -1000
	blocks := tc.buildActiveChain(11)
	fork := tc.addHeaders(blocks[4], 3, testBits)

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	first := shouldTriggerSafeMode(cfg, tc.c, fork[2], fork[0])
	for i := 0; i < 10; i++ {
		if got := shouldTriggerSafeMode(cfg, tc.c, fork[2], fork[0]); got != first {
			t.Fatalf("Classification must be deterministic: got %s then %s", first, got)
		}
	}
}
