package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/halcyonet/skua/crypto"
)

// Push validates a candidate block received from the network and integrates
// it into the chain: extending the main chain, rebranching onto a superior
// fork, or storing it off-main. Push calls are serialized; read queries
// proceed concurrently throughout.
func (bc *Blockchain) Push(block *Block) (PushResult, error) {
	return bc.pushBlock(block, false)
}

// TrustedPush is Push with the trust flag set: VRF and signature
// verification are skipped. Used when the caller produced the block
// locally.
func (bc *Blockchain) TrustedPush(block *Block) (PushResult, error) {
	return bc.pushBlock(block, true)
}

func (bc *Blockchain) pushBlock(block *Block, trusted bool) (PushResult, error) {
	// The push mutex is the upgradable-reader role: at most one push runs
	// at a time, while readers keep the state lock in read mode.
	bc.pushMu.Lock()
	defer bc.pushMu.Unlock()
	return bc.doPush(block, trusted)
}

func (bc *Blockchain) doPush(block *Block, trusted bool) (PushResult, error) {
	// Ignore all blocks at or below the most recently accepted macro block:
	// no rebranch below the finality frontier is possible, so they are
	// irrelevant.
	lastMacro := bc.policy.LastMacroBlock(bc.BlockNumber())
	if block.Header.Number <= lastMacro {
		log.WithFields(log.Fields{
			"block":           block.String(),
			"last_macro_block": lastMacro,
		}).Debug("Ignoring block - already finalized an earlier macro block")
		return PushIgnored, nil
	}

	blockHash := block.Hash()
	if bc.knownBlocks.Contains(blockHash) {
		return PushKnown, nil
	}

	readTxn, err := bc.readTxn()
	if err != nil {
		return PushIgnored, fmt.Errorf("open read txn: %w", err)
	}

	if _, err := bc.store.GetChainInfo(blockHash, false, readTxn); err == nil {
		readTxn.Release()
		return PushKnown, nil
	}

	prevInfo, err := bc.store.GetChainInfo(block.Header.ParentHash, false, readTxn)
	if err != nil {
		log.WithFields(log.Fields{
			"block":  block.String(),
			"parent": block.Header.ParentHash,
		}).Warn("Rejecting block - parent block is unknown")
		readTxn.Release()
		return PushIgnored, ErrOrphan
	}

	// The intended proposer: macro blocks key the lookup by their round,
	// micro and skip blocks by the block number.
	offset := block.Header.Number
	if block.IsMacro() {
		offset = block.Round()
	}
	proposerSlot, ok := bc.GetProposerAt(block.Header.Number, offset, prevInfo.Head.Header.Seed.Entropy())
	if !ok {
		log.WithField("block", block.String()).Warn("Rejecting block - failed to determine block proposer")
		readTxn.Release()
		return PushIgnored, ErrOrphan
	}
	proposerKey, err := crypto.PubKeyFromHex(proposerSlot.PublicKey)
	if err != nil {
		log.WithField("block", block.String()).Warn("Rejecting block - malformed proposer key")
		readTxn.Release()
		return PushIgnored, ErrOrphan
	}

	if err := bc.verifyBlockHeader(block, prevInfo, proposerKey, trusted); err != nil {
		log.WithFields(log.Fields{"block": block.String(), "error": err}).Warn("Rejecting block - bad header")
		readTxn.Release()
		return PushIgnored, err
	}
	if err := bc.verifyBlockJustification(block, proposerKey, trusted); err != nil {
		log.WithFields(log.Fields{"block": block.String(), "error": err}).Warn("Rejecting block - bad justification")
		readTxn.Release()
		return PushIgnored, err
	}
	if err := bc.verifyBlockBody(block); err != nil {
		log.WithFields(log.Fields{"block": block.String(), "error": err}).Warn("Rejecting block - bad body")
		readTxn.Release()
		return PushIgnored, err
	}

	// Equivocation surveillance; advisory only, never blocks ingestion.
	if block.IsMicro() && !block.IsSkip() {
		bc.detectForks(block, prevInfo, readTxn)
	}

	chainOrder := bc.orderChains(block, prevInfo)
	readTxn.Release()

	chainInfo := NewChainInfo(block, prevInfo)

	var result PushResult
	switch chainOrder {
	case OrderExtend:
		return bc.extend(chainInfo, prevInfo)
	case OrderSuperior:
		return bc.rebranch(chainInfo)
	case OrderInferior:
		log.WithField("block", block.String()).Debug("Storing block - on inferior chain")
		result = PushIgnored
	default: // OrderUnknown
		log.WithField("block", block.String()).Debug("Storing block - on fork")
		result = PushForked
	}

	txn, err := bc.writeTxn()
	if err != nil {
		return PushIgnored, fmt.Errorf("open write txn: %w", err)
	}
	if err := bc.store.PutChainInfo(txn, blockHash, chainInfo, true); err != nil {
		txn.Abort()
		return PushIgnored, fmt.Errorf("store fork block: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return PushIgnored, fmt.Errorf("commit fork block: %w", err)
	}
	bc.knownBlocks.Add(blockHash)

	return result, nil
}

// detectForks compares the candidate's VRF entropy against all stored
// non-skip micro blocks at the same height. Shared entropy means the same
// slot proposer signed two different blocks: equivocation. The resulting
// proofs are published on the fork notifier.
func (bc *Blockchain) detectForks(block *Block, prevInfo *ChainInfo, r Reader) {
	others, err := bc.store.GetBlocksAt(block.Header.Number, false, r)
	if err != nil {
		log.WithFields(log.Fields{"height": block.Header.Number, "error": err}).
			Warn("Fork detection skipped - failed to load blocks at height")
		return
	}

	entropy := block.Header.Seed.Entropy()
	for _, other := range others {
		if !other.IsMicro() || other.IsSkip() || other.Hash() == block.Hash() {
			continue
		}
		if other.Header.Seed.Entropy() != entropy {
			continue
		}
		if block.Justification == nil || other.Justification == nil {
			continue
		}
		proof := &ForkProof{
			Header1:        block.Header,
			Header2:        other.Header,
			Justification1: block.Justification.Micro,
			Justification2: other.Justification.Micro,
			PrevSeed:       prevInfo.Head.Header.Seed,
		}
		log.WithFields(log.Fields{
			"block":  block.String(),
			"other":  other.String(),
			"height": block.Header.Number,
		}).Info("Fork detected")
		bc.forkNotifier.Notify(ForkEvent{Proof: proof})
	}
}

// extend advances the main chain by one block.
func (bc *Blockchain) extend(chainInfo, prevInfo *ChainInfo) (PushResult, error) {
	block := chainInfo.Head
	blockHash := block.Hash()
	isMacro := block.IsMacro()
	isElection := bc.policy.IsElectionBlockAt(block.Header.Number)

	txn, err := bc.writeTxn()
	if err != nil {
		return PushIgnored, fmt.Errorf("open write txn: %w", err)
	}

	blockLog, err := bc.checkAndCommit(txn, block, prevInfo)
	if err != nil {
		txn.Abort()
		return PushIgnored, err
	}

	chainInfo.OnMainChain = true
	prevInfo.MainChainSuccessor = blockHash

	pruned := false
	storeErr := func() error {
		if err := bc.store.PutChainInfo(txn, blockHash, chainInfo, true); err != nil {
			return err
		}
		if err := bc.store.PutChainInfo(txn, block.Header.ParentHash, prevInfo, false); err != nil {
			return err
		}
		if err := bc.store.SetHead(txn, blockHash); err != nil {
			return err
		}
		if isElection {
			epoch := bc.policy.EpochAt(block.Header.Number)
			if epoch > bc.policy.MaxEpochsStored {
				if err := bc.store.PruneEpoch(txn, epoch-bc.policy.MaxEpochsStored); err != nil {
					return err
				}
				pruned = true
			}
		}
		return nil
	}()
	if storeErr != nil {
		txn.Abort()
		return PushIgnored, fmt.Errorf("store chain info: %w", storeErr)
	}
	if err := txn.Commit(); err != nil {
		return PushIgnored, fmt.Errorf("commit extend: %w", err)
	}

	// Upgrade to the writer as late as possible: the swap is a few field
	// assignments, then the lock drops back before any subscriber runs.
	bc.mu.Lock()
	if isMacro {
		bc.state.MacroInfo = chainInfo
		bc.state.MacroHeadHash = blockHash
		if isElection {
			bc.state.ElectionHead = block
			bc.state.ElectionHeadHash = blockHash
			bc.state.PreviousSlots = bc.state.CurrentSlots
			bc.state.CurrentSlots = block.MacroBody.Validators
		}
	}
	bc.state.MainChain = chainInfo
	bc.state.HeadHash = blockHash
	bc.mu.Unlock()

	if pruned {
		// Pruned hashes are gone from the store; drop the fast-path set
		// wholesale rather than tracking which entries died.
		bc.knownBlocks.Clear()
	}
	bc.knownBlocks.Add(blockHash)

	log.WithFields(log.Fields{
		"block":            block.String(),
		"num_transactions": block.NumTransactions(),
		"kind":             "extend",
	}).Debug("Accepted block")

	switch {
	case isElection:
		bc.notifier.Notify(BlockchainEvent{Type: EventEpochFinalized, Hash: blockHash})
	case isMacro:
		bc.notifier.Notify(BlockchainEvent{Type: EventFinalized, Hash: blockHash})
	default:
		bc.notifier.Notify(BlockchainEvent{Type: EventExtended, Hash: blockHash})
	}
	bc.logNotifier.Notify(blockLog)

	return PushExtended, nil
}

// hashInfo pairs a block hash with its chain info while walking branches.
type hashInfo struct {
	hash string
	info *ChainInfo
}

// rebranch swaps the main chain onto the superior branch ending in
// chainInfo's block.
func (bc *Blockchain) rebranch(chainInfo *ChainInfo) (PushResult, error) {
	targetBlock := chainInfo.Head
	blockHash := targetBlock.Hash()
	log.WithField("block", targetBlock.String()).Debug("Rebranching")

	// Walk up the fork chain until a main-chain block appears: the common
	// ancestor. The candidate sits at index 0, tip-first.
	readTxn, err := bc.readTxn()
	if err != nil {
		return PushIgnored, fmt.Errorf("open read txn: %w", err)
	}
	var forkChain []hashInfo
	current := hashInfo{blockHash, chainInfo}
	for !current.info.OnMainChain {
		prevHash := current.info.Head.Header.ParentHash
		prevInfo, err := bc.store.GetChainInfo(prevHash, true, readTxn)
		if err != nil {
			readTxn.Release()
			panic(fmt.Sprintf("corrupted store: failed to find fork predecessor %s while rebranching", prevHash))
		}
		forkChain = append(forkChain, current)
		current = hashInfo{prevHash, prevInfo}
	}
	readTxn.Release()

	ancestor := current
	log.WithFields(log.Fields{
		"block":           targetBlock.String(),
		"common_ancestor": ancestor.info.Head.String(),
		"num_blocks_up":   len(forkChain),
	}).Debug("Found common ancestor")

	// Finality guard: no rebranch may cross the last macro block.
	bc.mu.RLock()
	macroNumber := bc.state.MacroInfo.Head.Header.Number
	// Work on a copy: the in-memory head info must stay untouched until the
	// store transaction has committed.
	headCopy := *bc.state.MainChain
	headStart := hashInfo{bc.state.HeadHash, &headCopy}
	bc.mu.RUnlock()
	if ancestor.info.Head.Header.Number < macroNumber {
		log.WithFields(log.Fields{
			"block":    targetBlock.String(),
			"ancestor": ancestor.info.Head.String(),
		}).Warn("Rejecting block - ancestor block already finalized")
		return PushIgnored, ErrInvalidFork
	}

	writeTxn, err := bc.writeTxn()
	if err != nil {
		return PushIgnored, fmt.Errorf("open write txn: %w", err)
	}

	// Revert the current main chain down to (excluding) the ancestor.
	var blockLogs []BlockLog
	var revertChain []hashInfo
	current = headStart
	for current.hash != ancestor.hash {
		block := current.info.Head
		if block.IsMacro() {
			panic("trying to rebranch across macro block")
		}
		prevHash := block.Header.ParentHash
		prevInfo, err := bc.store.GetChainInfo(prevHash, true, writeTxn)
		if err != nil {
			panic(fmt.Sprintf("corrupted store: failed to find main chain predecessor %s while rebranching", prevHash))
		}

		blockLogs = append(blockLogs, bc.revertAccounts(writeTxn, block, prevInfo))

		if root := bc.accounts.Hash(writeTxn); root != prevInfo.Head.Header.StateRoot {
			panic(fmt.Sprintf("failed to revert main chain while rebranching - inconsistent state at %s", prevHash))
		}

		revertChain = append(revertChain, current)
		current = hashInfo{prevHash, prevInfo}
	}

	// Apply each fork block bottom-up.
	for i := len(forkChain) - 1; i >= 0; i-- {
		prev := ancestor
		if i < len(forkChain)-1 {
			prev = forkChain[i+1]
		}
		blockLog, err := bc.checkAndCommit(writeTxn, forkChain[i].info.Head, prev.info)
		if err != nil {
			log.WithFields(log.Fields{
				"block":      targetBlock.String(),
				"fork_block": forkChain[i].info.Head.String(),
				"error":      err,
			}).Warn("Rejecting block - failed to apply fork block while rebranching")
			writeTxn.Abort()

			// The offender and everything above it are known-invalid now;
			// expunge them so they are never walked again.
			removeTxn, rerr := bc.writeTxn()
			if rerr == nil {
				for j := i; j >= 0; j-- {
					fb := forkChain[j]
					if rerr = bc.store.RemoveChainInfo(removeTxn, fb.hash, fb.info.Head.Header.Number); rerr != nil {
						break
					}
					bc.knownBlocks.Remove(fb.hash)
				}
				if rerr == nil {
					rerr = removeTxn.Commit()
				} else {
					removeTxn.Abort()
				}
			}
			if rerr != nil {
				log.WithField("error", rerr).Warn("Failed to expunge invalid fork blocks")
			}
			return PushIgnored, ErrInvalidFork
		}
		blockLogs = append(blockLogs, blockLog)
	}

	// Flip main-chain membership: clear the reverted stretch, point the
	// ancestor at the fork, then flag the fork chain with successor links.
	storeErr := func() error {
		for _, rb := range revertChain {
			rb.info.OnMainChain = false
			rb.info.MainChainSuccessor = ""
			if err := bc.store.PutChainInfo(writeTxn, rb.hash, rb.info, false); err != nil {
				return err
			}
		}
		ancestor.info.MainChainSuccessor = forkChain[len(forkChain)-1].hash
		if err := bc.store.PutChainInfo(writeTxn, ancestor.hash, ancestor.info, false); err != nil {
			return err
		}
		for i := len(forkChain) - 1; i >= 0; i-- {
			fb := forkChain[i]
			fb.info.OnMainChain = true
			if i > 0 {
				fb.info.MainChainSuccessor = forkChain[i-1].hash
			} else {
				fb.info.MainChainSuccessor = ""
			}
			// Only the new tip is persisted with its body materialized;
			// older fork blocks kept theirs from the original store.
			if err := bc.store.PutChainInfo(writeTxn, fb.hash, fb.info, i == 0); err != nil {
				return err
			}
		}
		return bc.store.SetHead(writeTxn, forkChain[0].hash)
	}()
	if storeErr != nil {
		writeTxn.Abort()
		return PushIgnored, fmt.Errorf("store rebranch: %w", storeErr)
	}
	if err := writeTxn.Commit(); err != nil {
		return PushIgnored, fmt.Errorf("commit rebranch: %w", err)
	}

	newHead := forkChain[0]

	bc.mu.Lock()
	if newHead.info.Head.IsMacro() {
		bc.state.MacroInfo = newHead.info
		bc.state.MacroHeadHash = newHead.hash
		if bc.policy.IsElectionBlockAt(newHead.info.Head.Header.Number) {
			bc.state.ElectionHead = newHead.info.Head
			bc.state.ElectionHeadHash = newHead.hash
			bc.state.PreviousSlots = bc.state.CurrentSlots
			bc.state.CurrentSlots = newHead.info.Head.MacroBody.Validators
		}
	}
	bc.state.MainChain = newHead.info
	bc.state.HeadHash = newHead.hash
	bc.mu.Unlock()

	bc.knownBlocks.Add(blockHash)

	// Reverted blocks are reported head-first (revert order), adopted
	// blocks bottom-up (application order).
	reverted := make([]HashBlock, 0, len(revertChain))
	for _, rb := range revertChain {
		log.WithFields(log.Fields{
			"block":            rb.info.Head.String(),
			"num_transactions": rb.info.Head.NumTransactions(),
		}).Debug("Reverted block")
		reverted = append(reverted, HashBlock{Hash: rb.hash, Block: rb.info.Head})
	}
	adopted := make([]HashBlock, 0, len(forkChain))
	for i := len(forkChain) - 1; i >= 0; i-- {
		fb := forkChain[i]
		log.WithFields(log.Fields{
			"block":            fb.info.Head.String(),
			"num_transactions": fb.info.Head.NumTransactions(),
			"kind":             "rebranch",
		}).Debug("Accepted block")
		adopted = append(adopted, HashBlock{Hash: fb.hash, Block: fb.info.Head})
	}

	log.WithFields(log.Fields{
		"block":               newHead.info.Head.String(),
		"num_reverted_blocks": len(reverted),
		"num_adopted_blocks":  len(adopted),
	}).Debug("Rebranched")

	bc.notifier.Notify(BlockchainEvent{Type: EventRebranched, Hash: newHead.hash, Reverted: reverted, Adopted: adopted})
	bc.logNotifier.NotifyVec(blockLogs)

	return PushRebranched, nil
}
