package safemode

import (
	"encoding/json"
	"io"
	"time"

	"github.com/richmills3/bitcoin-sv/pkg/chain"
)

const timeLayout = "2006-01-02T15:04:05Z"

// blockJSON is the per-block object of the status document
type blockJSON struct {
	Hash          string `json:"hash"`
	Height        int64  `json:"height"`
	BlockTime     string `json:"blocktime"`
	FirstSeenTime string `json:"firstseentime"`
	Status        string `json:"status"`
}

// blockObj renders a block object, or {} when the block is absent
type blockObj struct {
	block *blockJSON
}

func (b blockObj) MarshalJSON() ([]byte, error) {
	if b.block == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.block)
}

type forkJSON struct {
	ForkFirstBlock        blockObj   `json:"forkfirstblock"`
	Tips                  []blockObj `json:"tips"`
	LastCommonBlock       blockObj   `json:"lastcommonblock"`
	ActiveChainFirstBlock blockObj   `json:"activechainfirstblock"`
}

type resultJSON struct {
	SafeModeEnabled bool       `json:"safemodeenabled"`
	ActiveTip       blockObj   `json:"activetip"`
	TimeUTC         string     `json:"timeutc"`
	Forks           []forkJSON `json:"forks"`
}

// blockStatusString derives the externally visible status of a block.
// First match wins.
func blockStatusString(c *chain.ChainState, b *chain.BlockIndex) string {
	switch {
	case c.Contains(b):
		return "active"
	case b.Status.IsInvalid():
		return "invalid"
	case b.ChainTx == 0:
		return "headers-only"
	case b.Status.IsValid(chain.ValidityScripts):
		return "valid-fork"
	case b.Status.IsValid(chain.ValidityTree):
		return "valid-headers"
	default:
		return "unknown"
	}
}

func renderBlock(c *chain.ChainState, b *chain.BlockIndex) blockObj {
	if b == nil {
		return blockObj{}
	}
	return blockObj{block: &blockJSON{
		Hash:          b.Hash.String(),
		Height:        b.Height,
		BlockTime:     time.Unix(b.BlockTime, 0).UTC().Format(timeLayout),
		FirstSeenTime: time.Unix(b.HeaderReceivedTime, 0).UTC().Format(timeLayout),
		Status:        blockStatusString(c, b),
	}}
}

// render builds the serialisable form of the result. Caller holds the chain
// lock; block ordering is deterministic for equal inputs.
func (r *Result) render(c *chain.ChainState, now time.Time) resultJSON {
	doc := resultJSON{
		SafeModeEnabled: r.MaxLevel != LevelNone,
		ActiveTip:       renderBlock(c, r.ActiveTip),
		TimeUTC:         now.UTC().Format(timeLayout),
		Forks:           make([]forkJSON, 0, len(r.Forks)),
	}

	for _, f := range r.sortedForks() {
		fj := forkJSON{
			ForkFirstBlock:        renderBlock(c, f.Base),
			Tips:                  make([]blockObj, 0, len(f.Tips)),
			LastCommonBlock:       renderBlock(c, f.Base.Parent),
			ActiveChainFirstBlock: renderBlock(c, c.Next(f.Base.Parent)),
		}
		for _, tip := range f.Tips {
			fj.Tips = append(fj.Tips, renderBlock(c, tip))
		}
		doc.Forks = append(doc.Forks, fj)
	}
	return doc
}

// MarshalDocument serialises the result to the fixed status-document schema
func (r *Result) MarshalDocument(c *chain.ChainState, pretty bool) ([]byte, error) {
	doc := r.render(c, time.Now())
	if pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

// WriteDocument writes the serialised result to the sink
func (r *Result) WriteDocument(w io.Writer, c *chain.ChainState, pretty bool) error {
	b, err := r.MarshalDocument(c, pretty)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
