package chain

import "github.com/richmills3/bitcoin-sv/internal/logger"

// LoadFromStore rebuilds the block index from the attached header store and
// re-activates the best chain. Returns the number of headers restored.
func (c *ChainState) LoadFromStore() (int, error) {
	c.Lock.AssertHeld()

	if c.store == nil {
		return 0, nil
	}

	records, err := c.store.LoadAll()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, rec := range records {
		if _, ok := c.index[rec.Hash]; ok {
			continue
		}

		idx := &BlockIndex{
			Hash:               rec.Hash,
			Height:             rec.Height,
			Bits:               rec.Bits,
			BlockTime:          rec.BlockTime,
			HeaderReceivedTime: rec.ReceivedTime,
			ChainTx:            rec.ChainTx,
			IgnoredForSafeMode: rec.Ignored,
			Status: BlockStatus{
				Validity:     BlockValidity(rec.Validity),
				Failed:       rec.Failed,
				FailedParent: rec.FailedParent,
			},
		}

		if rec.Height == 0 {
			idx.ChainWork = WorkForBits(rec.Bits)
		} else {
			p, ok := c.index[rec.Parent]
			if !ok {
				// Rows load parent-first, so a miss means a truncated store
				c.log.WithFields(logger.Fields{
					"hash":   shortHash(rec.Hash),
					"parent": shortHash(rec.Parent),
				}).Warn("Dropping stored header with missing parent")
				continue
			}
			idx.Parent = p
			work := WorkForBits(rec.Bits)
			idx.ChainWork = work.Add(work, p.ChainWork)
		}

		c.index[rec.Hash] = idx
		loaded++
	}

	c.activateBestChain()
	c.runHooks(nil)

	c.log.WithField("headers", loaded).Info("Block index restored from store")
	return loaded, nil
}
