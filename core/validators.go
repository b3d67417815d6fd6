package core

import (
	"encoding/binary"
	"fmt"

	"github.com/halcyonet/skua/crypto"
)

// Slot is one seat in the validator committee.
type Slot struct {
	Index     uint16 `json:"index"`
	PublicKey string `json:"public_key"` // hex-encoded ed25519 key
	Weight    uint32 `json:"weight"`
}

// Validators is the committee of an epoch, ordered by slot index.
type Validators []Slot

// TotalWeight returns the summed voting weight of all slots.
func (v Validators) TotalWeight() uint64 {
	var total uint64
	for _, s := range v {
		total += uint64(s.Weight)
	}
	return total
}

// Quorum returns the minimum aggregate weight for a valid committee
// decision: strictly more than two thirds of the total.
func (v Validators) Quorum() uint64 {
	return v.TotalWeight()*2/3 + 1
}

// GetSlot returns the slot at the given index.
func (v Validators) GetSlot(index uint16) (Slot, bool) {
	for _, s := range v {
		if s.Index == index {
			return s, true
		}
	}
	return Slot{}, false
}

// GetProposerAt deterministically selects the proposer slot for the given
// height and view/round offset from the parent block's VRF entropy. The
// draw is weighted by slot weight so that all nodes agree on the schedule.
func (v Validators) GetProposerAt(blockNumber, offset uint32, entropy string) (Slot, bool) {
	total := v.TotalWeight()
	if total == 0 {
		return Slot{}, false
	}
	draw := crypto.HashBytes([]byte(fmt.Sprintf("proposer:%d:%d:%s", blockNumber, offset, entropy)))
	r := binary.BigEndian.Uint64(draw[:8]) % total
	for _, s := range v {
		if r < uint64(s.Weight) {
			return s, true
		}
		r -= uint64(s.Weight)
	}
	return Slot{}, false
}

// SignedWeight sums the weight of the distinct slots appearing in sigs.
// Duplicate slot indices count once.
func (v Validators) SignedWeight(sigs []CommitteeSig) uint64 {
	seen := make(map[uint16]bool, len(sigs))
	var weight uint64
	for _, sig := range sigs {
		if seen[sig.SlotIndex] {
			continue
		}
		seen[sig.SlotIndex] = true
		if s, ok := v.GetSlot(sig.SlotIndex); ok {
			weight += uint64(s.Weight)
		}
	}
	return weight
}
