package core

// Receipts are opaque per-block bytes produced by the accounts engine at
// commit, enabling exact revert. Macro blocks do not produce recoverable
// receipts.
type Receipts []byte

// InherentType labels a system-generated state change.
type InherentType string

const (
	// InherentSlash punishes a slot proposer for equivocation or a skipped
	// view.
	InherentSlash InherentType = "slash"
	// InherentFinalizeEpoch settles the previous epoch at an election
	// boundary.
	InherentFinalizeEpoch InherentType = "finalize_epoch"
	// InherentReward credits a validator address.
	InherentReward InherentType = "reward"
)

// Inherent is a system-generated pseudo-transaction derived
// deterministically from a block and its surrounding context. Commit and
// revert must rebuild bit-identical inherent sequences.
type Inherent struct {
	Type   InherentType `json:"type"`
	Target string       `json:"target,omitempty"` // slot pubkey or address
	Value  uint64       `json:"value,omitempty"`
	Data   string       `json:"data,omitempty"`
}

// Accounts is the world-state engine consumed by the push pipeline. Commits
// and reverts are atomic with respect to the supplied transaction.
type Accounts interface {
	// Commit applies the transactions and inherents of the block at
	// blockNumber and returns receipts enabling exact revert. A semantic
	// refusal (underflow, bad nonce) is returned as an error; the caller
	// aborts the write transaction.
	Commit(txn WriteTxn, txs []*Transaction, inherents []*Inherent, blockNumber uint32) (Receipts, error)

	// Revert undoes a previous Commit given the same transactions and
	// inherents plus the receipts it produced.
	Revert(txn WriteTxn, txs []*Transaction, inherents []*Inherent, blockNumber uint32, receipts Receipts) error

	// Hash returns the current root hash of the accounts state as seen
	// through r.
	Hash(r Reader) string
}

// BlockchainState is the in-memory view of the chosen main chain. It is
// guarded by the blockchain's state lock: readers may hold copies of the
// fields, the push pipeline swaps them under the write lock.
type BlockchainState struct {
	MainChain *ChainInfo
	HeadHash  string

	MacroInfo     *ChainInfo // last macro block: the finality frontier
	MacroHeadHash string

	ElectionHead     *Block
	ElectionHeadHash string

	CurrentSlots  Validators
	PreviousSlots Validators
}
