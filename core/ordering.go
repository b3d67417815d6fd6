package core

import (
	"encoding/hex"

	"github.com/holiman/uint256"
)

// ChainOrdering classifies a candidate block against the current main
// chain. Classification reads block hashes and metadata only; it never
// mutates state.
type ChainOrdering int

const (
	// OrderExtend: the parent is the current head; the block simply extends
	// the main chain.
	OrderExtend ChainOrdering = iota
	// OrderSuperior: the block's branch is now better than the main chain.
	OrderSuperior
	// OrderInferior: the block's branch compares worse; store off-main.
	OrderInferior
	// OrderUnknown: a side branch that cannot (yet) beat the main chain;
	// store but do not rebranch.
	OrderUnknown
)

// String implements fmt.Stringer.
func (o ChainOrdering) String() string {
	switch o {
	case OrderExtend:
		return "extend"
	case OrderSuperior:
		return "superior"
	case OrderInferior:
		return "inferior"
	default:
		return "unknown"
	}
}

// hashAsInt interprets a hex block hash as a 256-bit big-endian integer for
// the deterministic tie-break.
func hashAsInt(hash string) *uint256.Int {
	b, err := hex.DecodeString(hash)
	if err != nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).SetBytes(b)
}

// orderChains classifies the candidate block given its parent's chain info.
// The total order between two chains is: (i) whichever tip extends further
// past the last macro block, (ii) cumulative work, (iii) the hash tie-break
// configured network-wide. A candidate whose tip is still below the head
// cannot beat it yet and is stored as an unknown side branch.
func (bc *Blockchain) orderChains(block *Block, prevInfo *ChainInfo) ChainOrdering {
	bc.mu.RLock()
	headHash := bc.state.HeadHash
	headInfo := bc.state.MainChain
	bc.mu.RUnlock()

	if block.Header.ParentHash == headHash {
		return OrderExtend
	}

	candNo := block.Header.Number
	headNo := headInfo.Head.Header.Number
	if candNo > headNo {
		return OrderSuperior
	}
	if candNo < headNo {
		return OrderUnknown
	}

	// Equal tip height: compare cumulative work, then hashes.
	candWork := new(uint256.Int).Add(prevInfo.Work(), blockWork(block))
	headWork := headInfo.Work()
	if cmp := candWork.Cmp(headWork); cmp != 0 {
		if cmp > 0 {
			return OrderSuperior
		}
		return OrderInferior
	}

	cmp := hashAsInt(block.Hash()).Cmp(hashAsInt(headHash))
	if bc.params.PreferLowTieBreak {
		cmp = -cmp
	}
	if cmp > 0 {
		return OrderSuperior
	}
	return OrderInferior
}
