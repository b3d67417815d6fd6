package core

import (
	"fmt"

	"github.com/halcyonet/skua/policy"
)

// BuildInherents derives the system-generated state changes committed with
// a block: finalize-previous-epoch on election boundaries, slashes from the
// body's fork proofs, and slashes for every view skipped before the block
// was produced.
//
// The function is pure in (block, prevEntropy, slots), so revert rebuilds
// the bit-identical inherent sequence without storing it. Ordering is
// fixed: finalize-epoch first, then fork-proof slashes in body order, then
// view-change slashes ascending by view.
func BuildInherents(pol policy.Policy, block *Block, prevEntropy string, slots Validators) []*Inherent {
	var inherents []*Inherent

	if block.IsElection() {
		inherents = append(inherents, &Inherent{
			Type: InherentFinalizeEpoch,
			Data: fmt.Sprintf("epoch:%d", pol.EpochAt(block.Header.Number)),
		})
	}

	if block.IsMicro() {
		for _, fp := range block.ForkProofs() {
			if slot, ok := slots.GetProposerAt(fp.Header1.Number, fp.Header1.Number, fp.PrevSeed.Entropy()); ok {
				inherents = append(inherents, &Inherent{
					Type:   InherentSlash,
					Target: slot.PublicKey,
					Data:   fmt.Sprintf("fork:%d", fp.Header1.Number),
				})
			}
		}
	}

	// Views [0, view) at this height were skipped; slash their proposers.
	for view := uint32(0); view < block.Header.View; view++ {
		if slot, ok := slots.GetProposerAt(block.Header.Number, view, prevEntropy); ok {
			inherents = append(inherents, &Inherent{
				Type:   InherentSlash,
				Target: slot.PublicKey,
				Data:   fmt.Sprintf("view:%d:%d", block.Header.Number, view),
			})
		}
	}

	return inherents
}

// GetProposerAt computes the slot expected to propose at the given height
// and offset from the parent seed's entropy. The offset is the Tendermint
// round for macro blocks and the block number otherwise.
func (bc *Blockchain) GetProposerAt(blockNumber, offset uint32, entropy string) (Slot, bool) {
	return bc.CurrentValidators().GetProposerAt(blockNumber, offset, entropy)
}
