package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/richmills3/bitcoin-sv/internal/logger"
)

var (
	errBadHashLength = errors.New("chain: hash must be 32 bytes")

	// ErrUnknownBlock is returned when a hash does not resolve in the index
	ErrUnknownBlock = errors.New("chain: unknown block")

	// ErrUnknownParent is returned for headers whose parent was never seen
	ErrUnknownParent = errors.New("chain: unknown parent")
)

// TipHook is invoked, with the chain lock held, after the block index or the
// active chain changes. newIdx is the block that triggered the change, or nil
// when the change cannot be attributed to a single new block.
type TipHook func(newIdx *BlockIndex)

// ChainState owns the block-index DAG and the active chain. All reads and
// writes require holding Lock; public methods assert that contract.
type ChainState struct {
	// Lock is the chain lock. Callers of ChainState and of the safe-mode
	// monitor acquire it around every operation.
	Lock Mutex

	log   *logger.Logger
	store *Store

	index  map[Hash]*BlockIndex
	active []*BlockIndex // height-indexed, active[0] is genesis

	hooks []TipHook
}

// NewChainState creates an empty chain state
func NewChainState(log *logger.Logger) *ChainState {
	return &ChainState{
		log:   log,
		index: make(map[Hash]*BlockIndex),
	}
}

// SetStore attaches a header store; subsequent index changes are persisted
func (c *ChainState) SetStore(s *Store) {
	c.store = s
}

// AddTipHook registers a hook run after every index or tip change
func (c *ChainState) AddTipHook(h TipHook) {
	c.hooks = append(c.hooks, h)
}

// Tip returns the active chain tip, or nil for an empty chain
func (c *ChainState) Tip() *BlockIndex {
	c.Lock.AssertHeld()
	if len(c.active) == 0 {
		return nil
	}
	return c.active[len(c.active)-1]
}

// Genesis returns the first block of the active chain, or nil
func (c *ChainState) Genesis() *BlockIndex {
	c.Lock.AssertHeld()
	if len(c.active) == 0 {
		return nil
	}
	return c.active[0]
}

// Contains reports whether the block is on the active chain
func (c *ChainState) Contains(b *BlockIndex) bool {
	c.Lock.AssertHeld()
	if b == nil || b.Height < 0 || b.Height >= int64(len(c.active)) {
		return false
	}
	return c.active[b.Height] == b
}

// Next returns the successor of b on the active chain, or nil
func (c *ChainState) Next(b *BlockIndex) *BlockIndex {
	c.Lock.AssertHeld()
	if !c.Contains(b) {
		return nil
	}
	if b.Height+1 >= int64(len(c.active)) {
		return nil
	}
	return c.active[b.Height+1]
}

// Lookup resolves a hash in the block index, or nil
func (c *ChainState) Lookup(h Hash) *BlockIndex {
	c.Lock.AssertHeld()
	return c.index[h]
}

// ForkTips returns every leaf of the block DAG that is not on the active
// chain, i.e. the tip of every competing branch currently known.
func (c *ChainState) ForkTips() []*BlockIndex {
	c.Lock.AssertHeld()

	hasChild := make(map[*BlockIndex]bool, len(c.index))
	for _, b := range c.index {
		if b.Parent != nil {
			hasChild[b.Parent] = true
		}
	}

	var tips []*BlockIndex
	for _, b := range c.index {
		if !hasChild[b] && !c.Contains(b) {
			tips = append(tips, b)
		}
	}
	return tips
}

// AddHeader registers a new header. The parent must already be known unless
// the index is empty, in which case the header becomes genesis. Returns the
// new (or previously known) index entry.
func (c *ChainState) AddHeader(hash, parent Hash, bits uint32, blockTime int64) (*BlockIndex, error) {
	c.Lock.AssertHeld()

	if existing, ok := c.index[hash]; ok {
		return existing, nil
	}

	idx := &BlockIndex{
		Hash:               hash,
		Bits:               bits,
		BlockTime:          blockTime,
		HeaderReceivedTime: time.Now().Unix(),
		Status:             BlockStatus{Validity: ValidityTree},
	}

	if len(c.index) == 0 {
		idx.Height = 0
		idx.ChainWork = WorkForBits(bits)
	} else {
		p, ok := c.index[parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
		}
		idx.Parent = p
		idx.Height = p.Height + 1
		work := WorkForBits(bits)
		idx.ChainWork = work.Add(work, p.ChainWork)
		if p.Status.IsInvalid() {
			idx.Status.FailedParent = true
		}
	}

	c.index[hash] = idx
	c.persist(idx)

	c.log.WithFields(logger.Fields{
		"hash":   shortHash(hash),
		"height": idx.Height,
	}).Debug("Header added to block index")

	c.activateBestChain()
	c.runHooks(idx)
	return idx, nil
}

// ConnectBlockData records that full block data arrived and validated for the
// given block. The parent must already have data (or the block is genesis).
func (c *ChainState) ConnectBlockData(hash Hash, txCount uint64) error {
	c.Lock.AssertHeld()

	idx, ok := c.index[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}
	if idx.ChainTx > 0 {
		return nil
	}
	if idx.Parent != nil && idx.Parent.ChainTx == 0 {
		return fmt.Errorf("chain: parent of %s has no block data", shortHash(hash))
	}

	idx.ChainTx = txCount
	if idx.Parent != nil {
		idx.ChainTx += idx.Parent.ChainTx
	}
	if !idx.Status.IsInvalid() && idx.Status.Validity < ValidityScripts {
		idx.Status.Validity = ValidityScripts
	}
	c.persist(idx)

	c.activateBestChain()
	c.runHooks(idx)
	return nil
}

// MarkInvalid flags a block as failed and poisons all of its descendants.
// The active chain is re-evaluated, which may trigger a reorg.
func (c *ChainState) MarkInvalid(hash Hash) error {
	c.Lock.AssertHeld()

	idx, ok := c.index[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}

	idx.Status.Failed = true
	c.persist(idx)
	c.poisonDescendants(idx)

	c.log.WithFields(logger.Fields{
		"hash":   shortHash(hash),
		"height": idx.Height,
	}).Warn("Block marked invalid")

	c.activateBestChain()
	c.runHooks(nil)
	return nil
}

// SetIgnoredForSafeMode sets or clears the operator ignore flag on a block
func (c *ChainState) SetIgnoredForSafeMode(hash Hash, ignored bool) error {
	c.Lock.AssertHeld()

	idx, ok := c.index[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, hash)
	}

	idx.IgnoredForSafeMode = ignored
	c.persist(idx)

	c.log.WithFields(logger.Fields{
		"hash":    shortHash(hash),
		"ignored": ignored,
	}).Info("Safe-mode ignore flag updated")

	c.runHooks(nil)
	return nil
}

func (c *ChainState) poisonDescendants(root *BlockIndex) {
	// The index carries no child links, so sweep until a pass adds nothing
	for changed := true; changed; {
		changed = false
		for _, b := range c.index {
			if b.Status.FailedParent || b.Parent == nil {
				continue
			}
			if b.Parent.Status.IsInvalid() {
				b.Status.FailedParent = true
				c.persist(b)
				changed = true
			}
		}
	}
}

// activateBestChain switches the active chain to the connectable tip with the
// most cumulative work
func (c *ChainState) activateBestChain() {
	// Ties never displace the incumbent tip, unless it turned invalid
	best := c.Tip()
	if best != nil && !c.connectable(best) {
		best = nil
	}
	for _, b := range c.index {
		if !c.connectable(b) {
			continue
		}
		if best == nil || best.ChainWork.Lt(b.ChainWork) {
			best = b
		}
	}
	if best == nil || best == c.Tip() {
		return
	}

	oldTip := c.Tip()

	newActive := make([]*BlockIndex, best.Height+1)
	for walk := best; walk != nil; walk = walk.Parent {
		newActive[walk.Height] = walk
	}
	c.active = newActive

	fields := logger.Fields{
		"new_tip":    shortHash(best.Hash),
		"new_height": best.Height,
	}
	if oldTip != nil {
		fields["old_tip"] = shortHash(oldTip.Hash)
		fields["old_height"] = oldTip.Height
	}
	c.log.WithFields(fields).Info("Active chain tip updated")
}

// connectable reports whether b can be the active tip: full data present for
// the whole branch and no validation failure recorded
func (c *ChainState) connectable(b *BlockIndex) bool {
	return b.ChainTx > 0 && !b.Status.IsInvalid()
}

func (c *ChainState) runHooks(newIdx *BlockIndex) {
	for _, h := range c.hooks {
		h(newIdx)
	}
}

func (c *ChainState) persist(b *BlockIndex) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveHeader(b); err != nil {
		c.log.WithError(err).WithField("hash", shortHash(b.Hash)).Warn("Failed to persist header")
	}
}

func shortHash(h Hash) string {
	return h.String()[:16]
}
