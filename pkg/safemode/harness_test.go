package safemode

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/chain"
	"github.com/richmills3/bitcoin-sv/pkg/config"
)

const (
	testBits  = 0x207fffff // expected work of 2 per block
	heavyBits = 0x203fffff // expected work of 4 per block
)

// testChain drives a real ChainState for monitor tests
type testChain struct {
	t       *testing.T
	c       *chain.ChainState
	counter uint64
}

func newTestChain(t *testing.T) *testChain {
	log := logger.NewLoggerTo(io.Discard, "error")
	return &testChain{t: t, c: chain.NewChainState(log)}
}

func testConfig() *config.SafeModeConfig {
	cfg := config.DefaultConfig().SafeMode
	cfg.MinForkLength = 3
	cfg.MaxForkDistance = 1000
	cfg.MinForkHeightDifference = 1
	cfg.WebhookAddress = ""
	return &cfg
}

func (tc *testChain) newHash() chain.Hash {
	tc.counter++
	var h chain.Hash
	binary.BigEndian.PutUint64(h[24:], tc.counter)
	return h
}

// addHeaders appends n headers after parent (nil for genesis) without block
// data, leaving the active chain untouched
func (tc *testChain) addHeaders(parent *chain.BlockIndex, n int, bits uint32) []*chain.BlockIndex {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	var parentHash chain.Hash
	if parent != nil {
		parentHash = parent.Hash
	}

	out := make([]*chain.BlockIndex, 0, n)
	for i := 0; i < n; i++ {
		idx, err := tc.c.AddHeader(tc.newHash(), parentHash, bits, 1600000000+int64(tc.counter)*600)
		if err != nil {
			tc.t.Fatalf("Failed to add header: %v", err)
		}
		parentHash = idx.Hash
		out = append(out, idx)
	}
	return out
}

// connect marks full block data for the given blocks, in order, letting
// best-chain activation run
func (tc *testChain) connect(blocks ...*chain.BlockIndex) {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	for _, b := range blocks {
		if err := tc.c.ConnectBlockData(b.Hash, 1); err != nil {
			tc.t.Fatalf("Failed to connect block data: %v", err)
		}
	}
}

// buildActiveChain creates a fully connected active chain of the given length
func (tc *testChain) buildActiveChain(length int) []*chain.BlockIndex {
	blocks := tc.addHeaders(nil, length, testBits)
	tc.connect(blocks...)
	return blocks
}

// markValidated stamps fork blocks as fully validated with data present,
// without running best-chain activation. This is the state of a competing
// branch the node verified but has not (or not yet) reorganised onto.
func (tc *testChain) markValidated(blocks ...*chain.BlockIndex) {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	for _, b := range blocks {
		b.ChainTx = uint64(b.Height) + 1
		if !b.Status.IsInvalid() {
			b.Status.Validity = chain.ValidityScripts
		}
	}
}

// markInvalid flags a block as failed and poisons its descendants
func (tc *testChain) markInvalid(b *chain.BlockIndex) {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()
	if err := tc.c.MarkInvalid(b.Hash); err != nil {
		tc.t.Fatalf("MarkInvalid failed: %v", err)
	}
}

func (tc *testChain) setIgnored(b *chain.BlockIndex, ignored bool) {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()
	b.IgnoredForSafeMode = ignored
}

// check runs one monitor pass under the chain lock
func (tc *testChain) check(m *Monitor, newIdx *chain.BlockIndex) {
	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()
	m.Check(newIdx)
}

// newMonitor wires a monitor with a recording alert sink
func (tc *testChain) newMonitor(cfg *config.SafeModeConfig) (*Monitor, *alertRecorder) {
	rec := &alertRecorder{}
	log := logger.NewLoggerTo(io.Discard, "error")
	return NewMonitor(cfg, tc.c, rec, log), rec
}

// alertRecorder captures operator alerts for assertions
type alertRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *alertRecorder) Alert(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *alertRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}
