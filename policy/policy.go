// Package policy defines the chain's block-cadence arithmetic: how heights
// map onto batches and epochs, where macro and election blocks sit, and how
// far back receipts and transactions stay relevant.
package policy

// Policy carries the consensus cadence parameters. All methods are pure;
// the same Policy must be used network-wide.
type Policy struct {
	BlocksPerBatch   uint32 `json:"blocks_per_batch"`   // micro blocks + 1 macro per batch
	BatchesPerEpoch  uint32 `json:"batches_per_epoch"`  // batches between election blocks
	MaxEpochsStored  uint32 `json:"max_epochs_stored"`  // epochs retained before pruning
	TxValidityWindow uint32 `json:"tx_validity_window"` // heights a tx hash stays replay-protected
}

// Default returns the standard cadence: a macro block every 32 heights, an
// election every 4 batches, 2 epochs retained.
func Default() Policy {
	return Policy{
		BlocksPerBatch:   32,
		BatchesPerEpoch:  4,
		MaxEpochsStored:  2,
		TxValidityWindow: 128,
	}
}

// BlocksPerEpoch returns the number of heights in one epoch.
func (p Policy) BlocksPerEpoch() uint32 {
	return p.BlocksPerBatch * p.BatchesPerEpoch
}

// IsMacroBlockAt reports whether the block at height n is a macro block
// (checkpoint or election). Genesis counts as a macro block.
func (p Policy) IsMacroBlockAt(n uint32) bool {
	return n%p.BlocksPerBatch == 0
}

// IsElectionBlockAt reports whether the block at height n is an election
// block. Genesis is the first election block.
func (p Policy) IsElectionBlockAt(n uint32) bool {
	return n%p.BlocksPerEpoch() == 0
}

// IsMicroBlockAt reports whether the block at height n is a micro block.
func (p Policy) IsMicroBlockAt(n uint32) bool {
	return !p.IsMacroBlockAt(n)
}

// LastMacroBlock returns the height of the most recent macro block at or
// below n.
func (p Policy) LastMacroBlock(n uint32) uint32 {
	return n - n%p.BlocksPerBatch
}

// LastElectionBlock returns the height of the most recent election block at
// or below n.
func (p Policy) LastElectionBlock(n uint32) uint32 {
	return n - n%p.BlocksPerEpoch()
}

// EpochAt returns the epoch number that height n belongs to. The election
// block at an epoch boundary belongs to the epoch it closes, so that all
// blocks it finalizes share its epoch number. Genesis is epoch 0.
func (p Policy) EpochAt(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return (n + p.BlocksPerEpoch() - 1) / p.BlocksPerEpoch()
}

// BatchAt returns the batch number that height n belongs to, with the same
// boundary convention as EpochAt.
func (p Policy) BatchAt(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return (n + p.BlocksPerBatch - 1) / p.BlocksPerBatch
}

// FirstBlockOfEpoch returns the first height of the given epoch: the block
// right after the previous election block.
func (p Policy) FirstBlockOfEpoch(epoch uint32) uint32 {
	if epoch == 0 {
		return 0
	}
	return (epoch-1)*p.BlocksPerEpoch() + 1
}

// LastBlockOfEpoch returns the election-block height closing the epoch.
func (p Policy) LastBlockOfEpoch(epoch uint32) uint32 {
	return epoch * p.BlocksPerEpoch()
}

// Validate checks the parameters are usable.
func (p Policy) Validate() error {
	switch {
	case p.BlocksPerBatch < 2:
		return errBlocksPerBatch
	case p.BatchesPerEpoch < 1:
		return errBatchesPerEpoch
	case p.MaxEpochsStored < 1:
		return errMaxEpochs
	}
	return nil
}
