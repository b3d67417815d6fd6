package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// commitAccounts applies a block's transactions and inherents to the
// accounts state inside txn and verifies the resulting root against the
// header. Micro-block receipts are stored for later revert; a macro block
// clears all receipts since rebranching across it is no longer possible.
func (bc *Blockchain) commitAccounts(txn WriteTxn, block *Block, prevInfo *ChainInfo) (BlockLog, error) {
	inherents := BuildInherents(bc.policy, block, prevInfo.Head.Header.Seed.Entropy(), bc.CurrentValidators())
	number := block.Header.Number

	if block.IsMacro() {
		if _, err := bc.accounts.Commit(txn, nil, inherents, number); err != nil {
			return BlockLog{}, accountsError(err)
		}
		if err := bc.store.ClearReceipts(txn); err != nil {
			return BlockLog{}, fmt.Errorf("clear receipts: %w", err)
		}
	} else {
		receipts, err := bc.accounts.Commit(txn, block.Transactions(), inherents, number)
		if err != nil {
			return BlockLog{}, accountsError(err)
		}
		if err := bc.store.PutReceipts(txn, number, receipts); err != nil {
			return BlockLog{}, fmt.Errorf("store receipts: %w", err)
		}
	}

	if hash := bc.accounts.Hash(txn); hash != block.Header.StateRoot {
		log.WithFields(log.Fields{
			"block":          block.String(),
			"state_root":     block.Header.StateRoot,
			"accounts_hash":  hash,
		}).Debug("Accounts hash mismatch")
		return BlockLog{}, invalidBlock(ErrAccountsHashMismatch)
	}

	return newBlockLog(block, inherents, false), nil
}

// revertAccounts undoes one micro block during rebranch. Any inconsistency
// here means the node can no longer reproduce correct state roots, so
// failures are corruption panics, not recoverable errors.
func (bc *Blockchain) revertAccounts(txn WriteTxn, block *Block, prevInfo *ChainInfo) BlockLog {
	number := block.Header.Number

	if hash := bc.accounts.Hash(txn); hash != block.Header.StateRoot {
		panic(fmt.Sprintf("corrupted state: accounts hash %s does not match block %s state root %s",
			hash, block.String(), block.Header.StateRoot))
	}

	inherents := BuildInherents(bc.policy, block, prevInfo.Head.Header.Seed.Entropy(), bc.CurrentValidators())

	receipts, err := bc.store.GetReceipts(number, txn)
	if err != nil {
		panic(fmt.Sprintf("corrupted store: missing receipts for block %s: %v", block.String(), err))
	}
	if err := bc.accounts.Revert(txn, block.Transactions(), inherents, number, receipts); err != nil {
		panic(fmt.Sprintf("corrupted state: failed to revert block %s: %v", block.String(), err))
	}
	if err := bc.store.RemoveTxIndex(txn, block); err != nil {
		panic(fmt.Sprintf("corrupted store: failed to unindex block %s: %v", block.String(), err))
	}

	blockLog := newBlockLog(block, inherents, true)
	return blockLog
}

// checkAndCommit is the shared apply path of extend and rebranch: replay
// protection for micro blocks, accounts commit, post-commit state check,
// and the history-index update.
func (bc *Blockchain) checkAndCommit(txn WriteTxn, block *Block, prevInfo *ChainInfo) (BlockLog, error) {
	if block.IsMicro() && !block.IsSkip() {
		for _, tx := range block.Transactions() {
			dup, err := bc.containsTxInWindow(tx.Hash(), block.Header.Number, txn)
			if err != nil {
				return BlockLog{}, fmt.Errorf("validity window lookup: %w", err)
			}
			if dup {
				log.WithFields(log.Fields{
					"block": block.String(),
					"tx":    tx.Hash(),
				}).Warn("Rejecting block - transaction already included")
				return BlockLog{}, ErrDuplicateTransaction
			}
		}
	}

	blockLog, err := bc.commitAccounts(txn, block, prevInfo)
	if err != nil {
		log.WithFields(log.Fields{
			"block": block.String(),
			"error": err,
		}).Warn("Rejecting block - commit failed")
		return BlockLog{}, err
	}

	if err := bc.verifyBlockState(block, txn); err != nil {
		log.WithFields(log.Fields{
			"block": block.String(),
			"error": err,
		}).Warn("Rejecting block - bad state")
		return BlockLog{}, err
	}

	if err := bc.store.PutTxIndex(txn, block); err != nil {
		return BlockLog{}, fmt.Errorf("index transactions: %w", err)
	}
	return blockLog, nil
}

// containsTxInWindow checks the history index relative to the height the
// block is being applied at.
func (bc *Blockchain) containsTxInWindow(txHash string, applyHeight uint32, r Reader) (bool, error) {
	height, ok, err := bc.store.GetTxBlockNumber(txHash, r)
	if err != nil || !ok {
		return false, err
	}
	return applyHeight < height+bc.policy.TxValidityWindow, nil
}
