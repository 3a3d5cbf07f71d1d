// Block-index DAG shared by consensus processing and the safe-mode monitor
package chain

import (
	"encoding/hex"

	"github.com/holiman/uint256"
)

// Hash is a 256-bit block hash
type Hash [32]byte

// String returns the lowercase hex encoding of the hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a 64-character hex string into a Hash
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, errBadHashLength
	}
	copy(h[:], b)
	return h, nil
}

// BlockValidity is how far a block has been validated
type BlockValidity uint8

const (
	ValidityUnknown BlockValidity = iota
	ValidityHeader                // header parsed, PoW checked
	ValidityTree                  // parent found, height and timestamp sane
	ValidityTransactions          // full block data present and well formed
	ValidityChain                 // all parents have data, amounts checked
	ValidityScripts               // scripts and signatures verified
)

// BlockStatus carries validity progress and failure flags for a block
type BlockStatus struct {
	Validity     BlockValidity
	Failed       bool // the block itself failed validation
	FailedParent bool // some ancestor failed validation
}

// IsValid reports whether the block reached the given validity level
// without any failure recorded
func (s BlockStatus) IsValid(upTo BlockValidity) bool {
	if s.IsInvalid() {
		return false
	}
	return s.Validity >= upTo
}

// IsInvalid reports whether the block or one of its ancestors failed validation
func (s BlockStatus) IsInvalid() bool {
	return s.Failed || s.FailedParent
}

// BlockIndex is a node of the in-memory block DAG. Instances are created by
// ChainState and live for the lifetime of the process; the safe-mode monitor
// holds them as non-owning handles. Identity is pointer identity.
//
// All mutable fields are guarded by the chain lock.
type BlockIndex struct {
	Hash   Hash
	Parent *BlockIndex // nil for genesis
	Height int64
	Bits   uint32 // compact difficulty target

	// ChainWork is the cumulative proof-of-work from genesis to this block
	ChainWork *uint256.Int

	BlockTime          int64 // miner-declared timestamp (unix)
	HeaderReceivedTime int64 // when this node first saw the header (unix)

	// ChainTx counts transactions from genesis through this block.
	// Non-zero iff full block data is present for this block and all parents.
	ChainTx uint64

	Status BlockStatus

	// IgnoredForSafeMode is an operator flag that truncates forks containing
	// this block when classifying safe-mode danger
	IgnoredForSafeMode bool
}

// IsGenesis reports whether this is the genesis block
func (b *BlockIndex) IsGenesis() bool {
	return b.Parent == nil
}

// Less orders block indexes by height ascending, then hash lexicographically.
// Used wherever a deterministic block order is required.
func (b *BlockIndex) Less(other *BlockIndex) bool {
	if b.Height != other.Height {
		return b.Height < other.Height
	}
	for i := 0; i < len(b.Hash); i++ {
		if b.Hash[i] != other.Hash[i] {
			return b.Hash[i] < other.Hash[i]
		}
	}
	return false
}
