package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/halcyonet/skua/crypto"
)

// BlockType discriminates the two block tiers.
type BlockType string

const (
	// BlockMicro is an ordinary block produced by a single slot proposer.
	BlockMicro BlockType = "micro"
	// BlockMacro is a checkpoint or election block finalized by the
	// committee. Macro blocks are irreversible.
	BlockMacro BlockType = "macro"
)

// BlockVersion is the only header version this node accepts.
const BlockVersion uint16 = 1

// Header contains the block metadata that is hashed and signed.
type Header struct {
	Version     uint16         `json:"version"`
	Number      uint32         `json:"number"`
	View        uint32         `json:"view"` // view/round the block was produced in
	ParentHash  string         `json:"parent_hash"`
	Seed        crypto.VrfSeed `json:"seed"`
	StateRoot   string         `json:"state_root"`   // accounts root after this block
	BodyRoot    string         `json:"body_root"`    // commitment to the body
	HistoryRoot string         `json:"history_root"` // commitment to the batch's transactions
	Timestamp   uint64         `json:"timestamp"`    // unix milliseconds
	ExtraData   string         `json:"extra_data,omitempty"`
}

// Transaction is the atomic unit of value transfer carried in micro-block
// bodies. Execution semantics live in the accounts engine.
type Transaction struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Value     uint64 `json:"value"`
	Fee       uint64 `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Data      string `json:"data,omitempty"`
}

// Hash returns a deterministic hash of the transaction.
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(tx)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// ForkProof is evidence that a slot proposer signed two different micro
// blocks at the same height. It is converted into a slash inherent by the
// accounts engine.
type ForkProof struct {
	Header1        Header         `json:"header1"`
	Header2        Header         `json:"header2"`
	Justification1 string         `json:"justification1"`
	Justification2 string         `json:"justification2"`
	PrevSeed       crypto.VrfSeed `json:"prev_seed"`
}

// Hash returns a deterministic hash identifying the proof, used for
// ordering and de-duplication within a block body.
func (fp *ForkProof) Hash() string {
	data, err := json.Marshal(fp)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Valid performs the structural checks: both headers at the same height,
// distinct blocks, same VRF entropy (same proposer slot).
func (fp *ForkProof) Valid() bool {
	if fp.Header1.Number != fp.Header2.Number {
		return false
	}
	h1, h2 := headerHash(&fp.Header1), headerHash(&fp.Header2)
	if h1 == h2 {
		return false
	}
	return fp.Header1.Seed.Entropy() == fp.Header2.Seed.Entropy()
}

// MicroBody carries a micro block's ordered transactions and fork proofs.
type MicroBody struct {
	Transactions []*Transaction `json:"transactions"`
	ForkProofs   []*ForkProof   `json:"fork_proofs,omitempty"`
}

// Root returns the body commitment: a hash over all transaction hashes and
// fork-proof hashes, length-prefixed against boundary ambiguity.
func (b *MicroBody) Root() string {
	var buf bytes.Buffer
	var lenBuf [4]byte
	write := func(s string) {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	}
	for _, tx := range b.Transactions {
		write(tx.Hash())
	}
	for _, fp := range b.ForkProofs {
		write(fp.Hash())
	}
	return crypto.Hash(buf.Bytes())
}

// MacroBody carries the elected validator set on election blocks. It is
// empty on checkpoint blocks.
type MacroBody struct {
	Validators Validators `json:"validators,omitempty"`
}

// Root returns the body commitment over the validator set.
func (b *MacroBody) Root() string {
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// CommitteeSig is one committee member's signature inside an aggregate
// justification.
type CommitteeSig struct {
	SlotIndex uint16 `json:"slot_index"`
	Signature string `json:"signature"`
}

// TendermintProof justifies a macro block: a quorum of committee signatures
// over the block hash, produced in the given round.
type TendermintProof struct {
	Round      uint32         `json:"round"`
	Signatures []CommitteeSig `json:"signatures"`
}

// SkipProof justifies a skip block: a quorum of committee signatures over
// the skip message for the failed slot.
type SkipProof struct {
	Signatures []CommitteeSig `json:"signatures"`
}

// Justification carries exactly one of the three proof kinds: a proposer
// signature for ordinary micro blocks, a skip proof for skip blocks, or a
// Tendermint aggregate for macro blocks.
type Justification struct {
	Micro      string           `json:"micro,omitempty"`
	Skip       *SkipProof       `json:"skip,omitempty"`
	Tendermint *TendermintProof `json:"tendermint,omitempty"`
}

// Block is the tagged {Micro, Macro} variant moved through the push
// pipeline.
type Block struct {
	Type          BlockType      `json:"type"`
	Header        Header         `json:"header"`
	MicroBody     *MicroBody     `json:"micro_body,omitempty"`
	MacroBody     *MacroBody     `json:"macro_body,omitempty"`
	Justification *Justification `json:"justification,omitempty"`

	hash string // cached header hash
}

func headerHash(h *Header) string {
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Hash returns the block hash: the hash of the serialised header. The
// result is cached; headers are immutable once a block enters the pipeline.
func (b *Block) Hash() string {
	if b.hash == "" {
		b.hash = headerHash(&b.Header)
	}
	return b.hash
}

// IsMicro reports whether the block is a micro block.
func (b *Block) IsMicro() bool { return b.Type == BlockMicro }

// IsMacro reports whether the block is a macro block.
func (b *Block) IsMacro() bool { return b.Type == BlockMacro }

// IsSkip reports whether the block is a skip block: a micro block justified
// by a view-change proof instead of a proposer signature.
func (b *Block) IsSkip() bool {
	return b.IsMicro() && b.Justification != nil && b.Justification.Skip != nil
}

// IsElection reports whether the block is an election macro block, which
// carries the next epoch's validator set.
func (b *Block) IsElection() bool {
	return b.IsMacro() && b.MacroBody != nil && len(b.MacroBody.Validators) > 0
}

// Round returns the Tendermint round for macro blocks, 0 otherwise.
func (b *Block) Round() uint32 {
	if b.IsMacro() && b.Justification != nil && b.Justification.Tendermint != nil {
		return b.Justification.Tendermint.Round
	}
	return 0
}

// Transactions returns the block's transactions, nil for macro blocks and
// blocks without a materialized body.
func (b *Block) Transactions() []*Transaction {
	if b.MicroBody == nil {
		return nil
	}
	return b.MicroBody.Transactions
}

// ForkProofs returns the fork proofs carried in the body, if any.
func (b *Block) ForkProofs() []*ForkProof {
	if b.MicroBody == nil {
		return nil
	}
	return b.MicroBody.ForkProofs
}

// NumTransactions returns the number of transactions in the body.
func (b *Block) NumTransactions() int { return len(b.Transactions()) }

// HasBody reports whether the block's body is materialized.
func (b *Block) HasBody() bool {
	if b.IsMicro() {
		return b.MicroBody != nil
	}
	return b.MacroBody != nil
}

// BodyRoot computes the commitment over the materialized body.
func (b *Block) BodyRoot() string {
	if b.IsMicro() {
		if b.MicroBody == nil {
			return ""
		}
		return b.MicroBody.Root()
	}
	if b.MacroBody == nil {
		return ""
	}
	return b.MacroBody.Root()
}

// StripBody returns a shallow copy of the block without its body, for
// storing chain info entries whose body lives under a separate key.
func (b *Block) StripBody() *Block {
	cp := *b
	cp.MicroBody = nil
	cp.MacroBody = nil
	return &cp
}

// WithBody returns a shallow copy of the block with the given bodies
// attached.
func (b *Block) WithBody(micro *MicroBody, macro *MacroBody) *Block {
	cp := *b
	cp.MicroBody = micro
	cp.MacroBody = macro
	return &cp
}

// String implements fmt.Stringer for log output.
func (b *Block) String() string {
	kind := string(b.Type)
	if b.IsSkip() {
		kind = "skip"
	} else if b.IsElection() {
		kind = "election"
	}
	return "#" + strconv.FormatUint(uint64(b.Header.Number), 10) + ":" + kind + ":" + shortHash(b.Hash())
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
