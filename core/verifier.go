package core

import (
	"fmt"
	"time"

	"github.com/halcyonet/skua/crypto"
)

// SkipMessage is the payload a committee signs to prove a slot's proposer
// was skipped.
func SkipMessage(number, view uint32, parentHash string) []byte {
	return []byte(fmt.Sprintf("skip:%d:%d:%s", number, view, parentHash))
}

// MacroMessage is the payload the committee signs over a macro block in a
// given round.
func MacroMessage(blockHash string, round uint32) []byte {
	return []byte(fmt.Sprintf("macro:%s:%d", blockHash, round))
}

// verifyBlockHeader runs the structural and cryptographic header checks
// against the accepted parent. Trusted mode skips the VRF seed
// verification; it is used when the caller produced the block locally.
func (bc *Blockchain) verifyBlockHeader(block *Block, prevInfo *ChainInfo, proposerKey crypto.PublicKey, trusted bool) error {
	header := &block.Header
	prev := &prevInfo.Head.Header

	if header.Version != BlockVersion {
		return invalidBlock(ErrUnsupportedVersion)
	}
	if len(header.ExtraData) > bc.params.MaxExtraDataLen {
		return invalidBlock(ErrExtraDataTooLarge)
	}
	if header.Number != prev.Number+1 {
		return invalidBlock(ErrInvalidSuccessor)
	}
	if bc.policy.IsMacroBlockAt(header.Number) != block.IsMacro() {
		return invalidBlock(ErrWrongBlockType)
	}
	if block.IsElection() && !bc.policy.IsElectionBlockAt(header.Number) {
		return invalidBlock(ErrWrongBlockType)
	}

	now := uint64(time.Now().UnixMilli())
	drift := uint64(bc.params.MaxTimeDrift.Milliseconds())
	if header.Timestamp > now+drift {
		return invalidBlock(ErrFromTheFuture)
	}
	if header.Timestamp < prev.Timestamp {
		return invalidBlock(ErrInvalidTimestamp)
	}

	if block.IsSkip() {
		// A skip block fills the slot mechanically: fixed delay, no view 0,
		// and the parent seed carried unchanged since nobody signed it.
		if header.Timestamp != prev.Timestamp+uint64(bc.params.SkipBlockDelay.Milliseconds()) {
			return invalidBlock(ErrInvalidSkipTimestamp)
		}
		if header.View == 0 {
			return invalidBlock(ErrInvalidView)
		}
		if header.Seed != prev.Seed {
			return invalidBlock(ErrInvalidSeed)
		}
		return nil
	}

	if !trusted {
		if err := crypto.VerifySeed(header.Seed, prev.Seed, proposerKey); err != nil {
			return invalidBlock(ErrInvalidSeed)
		}
	}
	return nil
}

// verifyBlockJustification checks the proof that entitles the block to its
// slot: the proposer signature for micro blocks, a skip proof meeting the
// quorum for skip blocks, or the committee aggregate for macro blocks.
// Trusted mode skips signature verification but still requires the proof to
// be present and well-formed.
func (bc *Blockchain) verifyBlockJustification(block *Block, proposerKey crypto.PublicKey, trusted bool) error {
	just := block.Justification
	if just == nil {
		return invalidBlock(ErrNoJustification)
	}
	validators := bc.CurrentValidators()

	switch {
	case block.IsMacro():
		proof := just.Tendermint
		if proof == nil {
			return invalidBlock(ErrNoJustification)
		}
		if trusted {
			return nil
		}
		msg := MacroMessage(block.Hash(), proof.Round)
		if bc.verifiedWeight(validators, proof.Signatures, msg) < validators.Quorum() {
			return invalidBlock(ErrInvalidJustification)
		}

	case block.IsSkip():
		proof := just.Skip
		if trusted {
			return nil
		}
		msg := SkipMessage(block.Header.Number, block.Header.View, block.Header.ParentHash)
		if bc.verifiedWeight(validators, proof.Signatures, msg) < validators.Quorum() {
			return invalidBlock(ErrInvalidSkipProof)
		}

	default:
		if just.Micro == "" {
			return invalidBlock(ErrNoJustification)
		}
		if trusted {
			return nil
		}
		if err := crypto.VerifyHash(proposerKey, block.Hash(), just.Micro); err != nil {
			return invalidBlock(ErrInvalidJustification)
		}
	}
	return nil
}

// verifiedWeight sums the weight of distinct slots whose signature over msg
// verifies.
func (bc *Blockchain) verifiedWeight(validators Validators, sigs []CommitteeSig, msg []byte) uint64 {
	seen := make(map[uint16]bool, len(sigs))
	var weight uint64
	for _, sig := range sigs {
		if seen[sig.SlotIndex] {
			continue
		}
		slot, ok := validators.GetSlot(sig.SlotIndex)
		if !ok {
			continue
		}
		pub, err := crypto.PubKeyFromHex(slot.PublicKey)
		if err != nil {
			continue
		}
		if crypto.Verify(pub, msg, sig.Signature) != nil {
			continue
		}
		seen[sig.SlotIndex] = true
		weight += uint64(slot.Weight)
	}
	return weight
}

// verifyBlockBody checks that the body matches the header commitment and is
// internally consistent: transactions well-formed and unique, fork proofs
// valid, unique and ordered, skip bodies empty, election blocks carrying a
// committee.
func (bc *Blockchain) verifyBlockBody(block *Block) error {
	if !block.HasBody() {
		return invalidBlock(ErrMissingBody)
	}
	if block.BodyRoot() != block.Header.BodyRoot {
		return invalidBlock(ErrBodyHashMismatch)
	}

	if block.IsMacro() {
		isElection := bc.policy.IsElectionBlockAt(block.Header.Number)
		if isElection != (len(block.MacroBody.Validators) > 0) {
			return invalidBlock(ErrInvalidValidators)
		}
		return nil
	}

	body := block.MicroBody
	if block.IsSkip() {
		if len(body.Transactions) > 0 || len(body.ForkProofs) > 0 {
			return invalidBlock(ErrInvalidSkipBlockBody)
		}
		return nil
	}

	seenTxs := make(map[string]bool, len(body.Transactions))
	for _, tx := range body.Transactions {
		if tx.Sender == "" || tx.Recipient == "" {
			return invalidBlock(ErrInvalidTransaction)
		}
		hash := tx.Hash()
		if seenTxs[hash] {
			return invalidBlock(ErrDuplicateTxInBlock)
		}
		seenTxs[hash] = true
	}

	var prevHash string
	for i, fp := range body.ForkProofs {
		if !fp.Valid() {
			return invalidBlock(ErrInvalidForkProof)
		}
		hash := fp.Hash()
		if i > 0 {
			if hash == prevHash {
				return invalidBlock(ErrDuplicateForkProof)
			}
			if hash < prevHash {
				return invalidBlock(ErrForkProofsNotOrdered)
			}
		}
		prevHash = hash
	}
	return nil
}

// verifyBlockState runs after the accounts commit: the history root in the
// header must match the batch's transaction history as recomputed from the
// store. The accounts-root comparison itself lives in commitAccounts.
func (bc *Blockchain) verifyBlockState(block *Block, r Reader) error {
	root, err := bc.ComputeHistoryRoot(block, r)
	if err != nil {
		return fmt.Errorf("compute history root: %w", err)
	}
	if root != block.Header.HistoryRoot {
		return invalidBlock(ErrInvalidHistoryRoot)
	}
	return nil
}

// ComputeHistoryRoot returns the commitment over all transaction hashes of
// the current batch up to and including the given block, walking parent
// pointers down to the last macro block. Block producers use it to fill the
// header before signing.
func (bc *Blockchain) ComputeHistoryRoot(block *Block, r Reader) (string, error) {
	if r == nil {
		txn, err := bc.readTxn()
		if err != nil {
			return "", err
		}
		defer txn.Release()
		r = txn
	}

	batchStart := bc.policy.LastMacroBlock(block.Header.Number - 1)

	var txHashes []string
	collect := func(b *Block) {
		// Iterate in reverse so the final ordering is chain order.
		txs := b.Transactions()
		for i := len(txs) - 1; i >= 0; i-- {
			txHashes = append(txHashes, txs[i].Hash())
		}
	}

	collect(block)
	parent := block.Header.ParentHash
	for number := block.Header.Number - 1; number > batchStart; number-- {
		info, err := bc.store.GetChainInfo(parent, true, r)
		if err != nil {
			return "", fmt.Errorf("load batch block %s: %w", parent, err)
		}
		collect(info.Head)
		parent = info.Head.Header.ParentHash
	}

	// The walk collected newest-first; reverse into chain order.
	for i, j := 0, len(txHashes)-1; i < j; i, j = i+1, j-1 {
		txHashes[i], txHashes[j] = txHashes[j], txHashes[i]
	}

	var buf []byte
	for _, h := range txHashes {
		buf = append(buf, byte(len(h)>>8), byte(len(h)))
		buf = append(buf, h...)
	}
	return crypto.Hash(buf), nil
}
