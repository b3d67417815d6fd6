package core

import (
	"github.com/holiman/uint256"
)

// Per-block chain-work weights. A proposer-signed block outweighs a skip
// block so that, at equal height past the checkpoint, the chain with fewer
// skipped slots wins the ordering.
const (
	workPerBlock     = 2
	workPerSkipBlock = 1
)

// ChainInfo is the store's per-block metadata: the block itself, its
// main-chain membership, the successor pointer maintained during extend and
// rebranch, and the cumulative work used for chain comparison.
type ChainInfo struct {
	Head               *Block `json:"head"`
	OnMainChain        bool   `json:"on_main_chain"`
	MainChainSuccessor string `json:"main_chain_successor,omitempty"`
	CumulativeWork     string `json:"cumulative_work"` // hex-encoded uint256
}

// blockWork returns the work contributed by a single block.
func blockWork(b *Block) *uint256.Int {
	if b.IsSkip() {
		return uint256.NewInt(workPerSkipBlock)
	}
	return uint256.NewInt(workPerBlock)
}

// NewChainInfo creates the chain info for a freshly accepted block,
// accumulating the parent's work. The block starts off the main chain;
// extend and rebranch flip the flag.
func NewChainInfo(block *Block, prevInfo *ChainInfo) *ChainInfo {
	work := new(uint256.Int)
	if prevInfo != nil {
		work.Set(prevInfo.Work())
	}
	work.Add(work, blockWork(block))
	return &ChainInfo{
		Head:           block,
		OnMainChain:    false,
		CumulativeWork: work.Hex(),
	}
}

// NewGenesisChainInfo creates the chain info for the genesis block, which
// is on the main chain by construction.
func NewGenesisChainInfo(block *Block) *ChainInfo {
	return &ChainInfo{
		Head:           block,
		OnMainChain:    true,
		CumulativeWork: blockWork(block).Hex(),
	}
}

// Work parses the cumulative work. A malformed stored value decodes as
// zero; it can only arise from store corruption.
func (ci *ChainInfo) Work() *uint256.Int {
	w, err := uint256.FromHex(ci.CumulativeWork)
	if err != nil {
		return uint256.NewInt(0)
	}
	return w
}
