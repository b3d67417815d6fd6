package core

import (
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/halcyonet/skua/events"
	"github.com/halcyonet/skua/policy"
)

// Params are the network-wide verification and ordering parameters.
// All nodes of a network must agree on them.
type Params struct {
	// MaxTimeDrift is how far a header timestamp may lie in the future.
	MaxTimeDrift time.Duration
	// SkipBlockDelay is the exact timestamp offset of a skip block relative
	// to its parent.
	SkipBlockDelay time.Duration
	// MaxExtraDataLen bounds the header's extra-data field.
	MaxExtraDataLen int
	// PreferLowTieBreak picks the lexicographically smaller tip hash when
	// two chains are otherwise equal. A consensus parameter: all nodes must
	// agree on the direction.
	PreferLowTieBreak bool
	// EventBufferSize is the per-subscriber channel capacity.
	EventBufferSize int
}

// DefaultParams returns the standard parameters.
func DefaultParams() Params {
	return Params{
		MaxTimeDrift:      15 * time.Second,
		SkipBlockDelay:    8 * time.Second,
		MaxExtraDataLen:   32,
		PreferLowTieBreak: true,
		EventBufferSize:   events.DefaultBufferSize,
	}
}

// Blockchain is the chain-management core: it validates candidate blocks,
// integrates them into the persistent chain store, keeps the accounts state
// consistent with the chosen main chain, handles forks by rebranch, and
// notifies subscribers of chain progress.
//
// Locking discipline: pushMu serializes the push pipeline end to end (the
// upgradable-reader role: at most one push in flight, readers unaffected).
// mu guards the in-memory state; the pipeline holds it for writing only
// around the final field swap, and never while emitting events, so
// subscriber callbacks can re-enter read queries without deadlock.
type Blockchain struct {
	pushMu sync.Mutex
	mu     sync.RWMutex

	db       TxnDB
	store    ChainStore
	accounts Accounts
	policy   policy.Policy
	params   Params

	state BlockchainState

	// knownBlocks fast-paths the duplicate check in push. Entries are added
	// whenever a block is durably stored and dropped when fork blocks are
	// expunged; the set is cleared wholesale at epoch pruning.
	knownBlocks mapset.Set[string]

	notifier     *events.Notifier[BlockchainEvent]
	forkNotifier *events.Notifier[ForkEvent]
	logNotifier  *events.Notifier[BlockLog]
}

// NewBlockchain loads the chain state persisted in store and verifies that
// the accounts root matches the head's state root. The store
// must already contain a genesis block; see config.InstallGenesis.
func NewBlockchain(db TxnDB, store ChainStore, accounts Accounts, pol policy.Policy, params Params) (*Blockchain, error) {
	bc := &Blockchain{
		db:           db,
		store:        store,
		accounts:     accounts,
		policy:       pol,
		params:       params,
		knownBlocks:  mapset.NewSet[string](),
		notifier:     events.NewNotifier[BlockchainEvent]("chain", params.EventBufferSize),
		forkNotifier: events.NewNotifier[ForkEvent]("fork", params.EventBufferSize),
		logNotifier:  events.NewNotifier[BlockLog]("block-log", params.EventBufferSize),
	}
	if err := bc.loadState(); err != nil {
		return nil, err
	}
	return bc, nil
}

// loadState re-establishes the in-memory state from the store at startup.
func (bc *Blockchain) loadState() error {
	txn, err := bc.db.ReadTxn()
	if err != nil {
		return fmt.Errorf("open read txn: %w", err)
	}
	defer txn.Release()

	headHash, err := bc.store.GetHead(txn)
	if err != nil {
		return fmt.Errorf("load head: %w", err)
	}
	mainChain, err := bc.store.GetChainInfo(headHash, true, txn)
	if err != nil {
		return fmt.Errorf("load head chain info %s: %w", headHash, err)
	}

	headNo := mainChain.Head.Header.Number
	macroNo := bc.policy.LastMacroBlock(headNo)
	macroInfo, err := bc.store.GetChainInfoAt(macroNo, true, txn)
	if err != nil {
		return fmt.Errorf("load macro block at %d: %w", macroNo, err)
	}

	electionNo := bc.policy.LastElectionBlock(headNo)
	electionInfo, err := bc.store.GetChainInfoAt(electionNo, true, txn)
	if err != nil {
		return fmt.Errorf("load election block at %d: %w", electionNo, err)
	}
	if !electionInfo.Head.IsElection() {
		return fmt.Errorf("block at %d is not an election block", electionNo)
	}

	bc.state = BlockchainState{
		MainChain:        mainChain,
		HeadHash:         headHash,
		MacroInfo:        macroInfo,
		MacroHeadHash:    macroInfo.Head.Hash(),
		ElectionHead:     electionInfo.Head,
		ElectionHeadHash: electionInfo.Head.Hash(),
		CurrentSlots:     electionInfo.Head.MacroBody.Validators,
	}

	// The previous epoch's committee, when still stored.
	if electionNo >= bc.policy.BlocksPerEpoch() {
		prevElectionNo := electionNo - bc.policy.BlocksPerEpoch()
		if prevInfo, err := bc.store.GetChainInfoAt(prevElectionNo, true, txn); err == nil && prevInfo.Head.IsElection() {
			bc.state.PreviousSlots = prevInfo.Head.MacroBody.Validators
		}
	}

	// The head state root must match the accounts root.
	if root := bc.accounts.Hash(txn); root != mainChain.Head.Header.StateRoot {
		return fmt.Errorf("accounts root %s does not match head state root %s",
			root, mainChain.Head.Header.StateRoot)
	}

	log.WithFields(log.Fields{
		"head":     mainChain.Head.String(),
		"macro":    macroInfo.Head.String(),
		"election": electionInfo.Head.String(),
	}).Info("Blockchain state loaded")
	return nil
}

// readTxn opens a read transaction on the store.
func (bc *Blockchain) readTxn() (ReadTxn, error) {
	return bc.db.ReadTxn()
}

// writeTxn opens the exclusive write transaction on the store.
func (bc *Blockchain) writeTxn() (WriteTxn, error) {
	return bc.db.WriteTxn()
}

// Policy returns the cadence parameters the chain runs on.
func (bc *Blockchain) Policy() policy.Policy { return bc.policy }

// ---- read queries ----

// HeadHash returns the hash of the current main-chain head.
func (bc *Blockchain) HeadHash() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.HeadHash
}

// BlockNumber returns the height of the current main-chain head.
func (bc *Blockchain) BlockNumber() uint32 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.MainChain.Head.Header.Number
}

// Head returns the current main-chain head block.
func (bc *Blockchain) Head() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.MainChain.Head
}

// MacroHeadHash returns the hash of the last macro block, the finality
// frontier.
func (bc *Blockchain) MacroHeadHash() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.MacroHeadHash
}

// MacroHead returns the last macro block.
func (bc *Blockchain) MacroHead() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.MacroInfo.Head
}

// ElectionHeadHash returns the hash of the last election block.
func (bc *Blockchain) ElectionHeadHash() string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.ElectionHeadHash
}

// CurrentValidators returns the committee of the current epoch.
func (bc *Blockchain) CurrentValidators() Validators {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.CurrentSlots
}

// PreviousValidators returns the committee of the previous epoch, nil when
// no longer stored.
func (bc *Blockchain) PreviousValidators() Validators {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.PreviousSlots
}

// GetBlock returns the block stored under hash, with its body when
// materialized.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	txn, err := bc.readTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Release()
	info, err := bc.store.GetChainInfo(hash, true, txn)
	if err != nil {
		return nil, err
	}
	return info.Head, nil
}

// GetBlocksAt returns all known blocks at a height, including blocks off
// the main chain.
func (bc *Blockchain) GetBlocksAt(height uint32) ([]*Block, error) {
	txn, err := bc.readTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Release()
	return bc.store.GetBlocksAt(height, true, txn)
}

// GetBlockAt returns the main-chain block at the given height.
func (bc *Blockchain) GetBlockAt(height uint32) (*Block, error) {
	txn, err := bc.readTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Release()
	info, err := bc.store.GetChainInfoAt(height, true, txn)
	if err != nil {
		return nil, err
	}
	return info.Head, nil
}

// AccountsHash returns the current accounts root.
func (bc *Blockchain) AccountsHash() (string, error) {
	txn, err := bc.readTxn()
	if err != nil {
		return "", err
	}
	defer txn.Release()
	return bc.accounts.Hash(txn), nil
}

// ContainsTxInValidityWindow reports whether the transaction hash was
// included in a main-chain block within the validity window. The reader is
// optional; pass the surrounding transaction when one is open.
func (bc *Blockchain) ContainsTxInValidityWindow(txHash string, r Reader) (bool, error) {
	if r == nil {
		txn, err := bc.readTxn()
		if err != nil {
			return false, err
		}
		defer txn.Release()
		r = txn
	}
	height, ok, err := bc.store.GetTxBlockNumber(txHash, r)
	if err != nil || !ok {
		return false, err
	}
	head := bc.BlockNumber()
	return head < height+bc.policy.TxValidityWindow, nil
}

// ---- subscriptions ----

// SubscribeEvents returns a stream of chain-progress events. Events for a
// block arrive only after the block is persistently the head.
func (bc *Blockchain) SubscribeEvents() <-chan BlockchainEvent {
	return bc.notifier.Subscribe()
}

// SubscribeForkEvents returns a stream of equivocation evidence.
func (bc *Blockchain) SubscribeForkEvents() <-chan ForkEvent {
	return bc.forkNotifier.Subscribe()
}

// SubscribeBlockLogs returns the per-block application log stream.
func (bc *Blockchain) SubscribeBlockLogs() <-chan BlockLog {
	return bc.logNotifier.Subscribe()
}
