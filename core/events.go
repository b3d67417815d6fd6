package core

// BlockchainEventType discriminates chain-progress events.
type BlockchainEventType string

const (
	// EventExtended: a block extended the main chain.
	EventExtended BlockchainEventType = "extended"
	// EventFinalized: a non-election macro block was accepted.
	EventFinalized BlockchainEventType = "finalized"
	// EventEpochFinalized: an election macro block was accepted.
	EventEpochFinalized BlockchainEventType = "epoch_finalized"
	// EventRebranched: the main chain switched onto a superior branch.
	EventRebranched BlockchainEventType = "rebranched"
)

// HashBlock pairs a block with its hash in event payloads.
type HashBlock struct {
	Hash  string
	Block *Block
}

// BlockchainEvent is broadcast to subscribers after a head transition is
// durably committed. For EventRebranched, Reverted lists the abandoned
// main-chain blocks head-first and Adopted the new branch bottom-up.
type BlockchainEvent struct {
	Type     BlockchainEventType
	Hash     string
	Reverted []HashBlock
	Adopted  []HashBlock
}

// ForkEvent surfaces equivocation evidence. Publication is advisory and
// carries no ordering guarantee with block events.
type ForkEvent struct {
	Proof *ForkProof
}

// TxLog records one applied transaction in a block log.
type TxLog struct {
	TxHash    string `json:"tx_hash"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Value     uint64 `json:"value"`
}

// InherentLog records one applied inherent in a block log.
type InherentLog struct {
	Type   InherentType `json:"type"`
	Target string       `json:"target,omitempty"`
	Value  uint64       `json:"value,omitempty"`
}

// BlockLog is the per-block application record delivered on the block-log
// stream. Within one rebranch, reverted logs are emitted before adopted
// ones.
type BlockLog struct {
	Reverted     bool          `json:"reverted"`
	BlockHash    string        `json:"block_hash"`
	BlockNumber  uint32        `json:"block_number"`
	TxLogs       []TxLog       `json:"tx_logs,omitempty"`
	InherentLogs []InherentLog `json:"inherent_logs,omitempty"`
}

// newBlockLog builds the application record for a block and the inherents
// that were committed or reverted with it.
func newBlockLog(block *Block, inherents []*Inherent, reverted bool) BlockLog {
	log := BlockLog{
		Reverted:    reverted,
		BlockHash:   block.Hash(),
		BlockNumber: block.Header.Number,
	}
	for _, tx := range block.Transactions() {
		log.TxLogs = append(log.TxLogs, TxLog{
			TxHash:    tx.Hash(),
			Sender:    tx.Sender,
			Recipient: tx.Recipient,
			Value:     tx.Value,
		})
	}
	for _, inh := range inherents {
		log.InherentLogs = append(log.InherentLogs, InherentLog{
			Type:   inh.Type,
			Target: inh.Target,
			Value:  inh.Value,
		})
	}
	return log
}
