package testutil

import (
	"fmt"
	"testing"

	"github.com/halcyonet/skua/accounts"
	"github.com/halcyonet/skua/config"
	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/crypto"
	"github.com/halcyonet/skua/policy"
	"github.com/halcyonet/skua/storage"
)

// Test account addresses. Alice and Bob are funded at genesis; Carol starts
// with no balance.
const (
	Alice = "alice"
	Bob   = "bob"
	Carol = "carol"
)

// Chain is a fully wired blockchain over an in-memory store, plus the
// validator keys and block-building scaffolding tests need to produce
// verifiable blocks.
type Chain struct {
	DB       *MemDB
	Store    *storage.ChainStore
	Accounts *accounts.Accounts
	BC       *core.Blockchain
	Cfg      *config.Config
	Genesis  *core.Block

	// Keys maps validator public-key hex to the signing key.
	Keys map[string]crypto.PrivateKey

	// lineage records every block ever built, keyed by hash, so state and
	// history roots can be recomputed for any branch by replay.
	lineage map[string]*core.Block
}

// TestPolicy is the compressed cadence used in tests: a macro block every 4
// heights, an election every 8.
func TestPolicy() policy.Policy {
	return policy.Policy{
		BlocksPerBatch:   4,
		BatchesPerEpoch:  2,
		MaxEpochsStored:  2,
		TxValidityWindow: 16,
	}
}

// NewChain builds a chain with three deterministic validators, installs
// genesis and opens the blockchain.
func NewChain(t testing.TB) *Chain {
	t.Helper()

	keys := make(map[string]crypto.PrivateKey)
	var validators []config.GenesisValidator
	for i := 0; i < 3; i++ {
		var seed [crypto.SeedSize]byte
		seed[0] = byte(i + 1)
		priv := crypto.NewKeyFromSeed(seed[:])
		pub := priv.Public().Hex()
		keys[pub] = priv
		validators = append(validators, config.GenesisValidator{PublicKey: pub, Weight: 1})
	}

	cfg := config.DefaultConfig()
	cfg.Policy = TestPolicy()
	cfg.Genesis = config.GenesisConfig{
		ChainID:    "skua-test",
		Timestamp:  1_700_000_000_000,
		Validators: validators,
		Alloc: map[string]uint64{
			Alice: 1_000_000,
			Bob:   500_000,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config: %v", err)
	}

	db := NewMemDB()
	store, err := storage.NewChainStore(cfg.Policy, 0)
	if err != nil {
		t.Fatalf("chain store: %v", err)
	}
	acc := accounts.New()

	genesis, err := config.InstallGenesis(db, store, acc, cfg)
	if err != nil {
		t.Fatalf("install genesis: %v", err)
	}

	bc, err := core.NewBlockchain(db, store, acc, cfg.Policy, cfg.Params())
	if err != nil {
		t.Fatalf("open blockchain: %v", err)
	}

	c := &Chain{
		DB:       db,
		Store:    store,
		Accounts: acc,
		BC:       bc,
		Cfg:      cfg,
		Genesis:  genesis,
		Keys:     keys,
		lineage:  map[string]*core.Block{genesis.Hash(): genesis},
	}
	return c
}

// Tx builds a transfer transaction.
func Tx(sender, recipient string, value, fee, nonce uint64) *core.Transaction {
	return &core.Transaction{Sender: sender, Recipient: recipient, Value: value, Fee: fee, Nonce: nonce}
}

// NextBlock builds the block following parent, choosing micro or macro by
// the policy cadence. Macro blocks ignore txs.
func (c *Chain) NextBlock(t testing.TB, parent *core.Block, txs []*core.Transaction) *core.Block {
	t.Helper()
	if c.Cfg.Policy.IsMacroBlockAt(parent.Header.Number + 1) {
		return c.MacroBlock(t, parent)
	}
	return c.MicroBlock(t, parent, txs)
}

// MicroBlock builds a signed micro block on parent.
func (c *Chain) MicroBlock(t testing.TB, parent *core.Block, txs []*core.Transaction) *core.Block {
	t.Helper()
	return c.microBlock(t, parent, txs, "")
}

// MicroBlockLosingTo builds a micro block on parent whose hash loses the
// low-hash tie-break against rival, by nudging the extra-data field.
func (c *Chain) MicroBlockLosingTo(t testing.TB, parent *core.Block, txs []*core.Transaction, rival *core.Block) *core.Block {
	t.Helper()
	for i := 0; i < 1024; i++ {
		b := c.microBlock(t, parent, txs, fmt.Sprintf("n%d", i))
		if b.Hash() > rival.Hash() {
			return b
		}
	}
	t.Fatal("could not build a tie-break-losing block")
	return nil
}

// MicroBlockWinningOver is the inverse: the built block wins the low-hash
// tie-break against rival.
func (c *Chain) MicroBlockWinningOver(t testing.TB, parent *core.Block, txs []*core.Transaction, rival *core.Block) *core.Block {
	t.Helper()
	for i := 0; i < 1024; i++ {
		b := c.microBlock(t, parent, txs, fmt.Sprintf("w%d", i))
		if b.Hash() < rival.Hash() {
			return b
		}
	}
	t.Fatal("could not build a tie-break-winning block")
	return nil
}

func (c *Chain) microBlock(t testing.TB, parent *core.Block, txs []*core.Transaction, extra string) *core.Block {
	t.Helper()
	return c.BuildMicroBlock(t, parent, txs, extra, "")
}

// BuildMicroBlock assembles and signs a micro block on parent. An empty
// stateRoot is computed by replaying the branch; a non-empty one is taken
// verbatim, which lets tests exercise the rejection paths with blocks the
// replay could not produce.
func (c *Chain) BuildMicroBlock(t testing.TB, parent *core.Block, txs []*core.Transaction, extra, stateRoot string) *core.Block {
	t.Helper()
	number := parent.Header.Number + 1
	entropy := parent.Header.Seed.Entropy()

	slot, ok := c.Cfg.Slots().GetProposerAt(number, number, entropy)
	if !ok {
		t.Fatalf("no proposer for block %d", number)
	}
	priv := c.Keys[slot.PublicKey]

	body := &core.MicroBody{Transactions: txs}
	block := &core.Block{
		Type: core.BlockMicro,
		Header: core.Header{
			Version:    core.BlockVersion,
			Number:     number,
			ParentHash: parent.Hash(),
			Seed:       crypto.NextSeed(priv, parent.Header.Seed),
			Timestamp:  parent.Header.Timestamp + 1000,
			ExtraData:  extra,
		},
		MicroBody: body,
	}
	block.Header.BodyRoot = body.Root()
	block.Header.HistoryRoot = c.historyRootFor(t, parent, block)
	if stateRoot == "" {
		stateRoot = c.stateRootAfter(t, parent, block)
	}
	block.Header.StateRoot = stateRoot

	block.Justification = &core.Justification{Micro: crypto.SignHash(priv, block.Hash())}
	return c.remember(block)
}

// SkipBlock builds the skip block filling the slot after parent.
func (c *Chain) SkipBlock(t testing.TB, parent *core.Block) *core.Block {
	t.Helper()
	number := parent.Header.Number + 1
	body := &core.MicroBody{}
	block := &core.Block{
		Type: core.BlockMicro,
		Header: core.Header{
			Version:    core.BlockVersion,
			Number:     number,
			View:       1,
			ParentHash: parent.Hash(),
			Seed:       parent.Header.Seed,
			Timestamp:  parent.Header.Timestamp + uint64(c.Cfg.Consensus.SkipBlockDelayMillis),
		},
		MicroBody: body,
	}
	block.Header.BodyRoot = body.Root()
	block.Header.HistoryRoot = c.historyRootFor(t, parent, block)
	// Justification type must be fixed before the state root: a skip block
	// slashes the skipped view's proposer.
	block.Justification = &core.Justification{Skip: &core.SkipProof{}}
	block.Header.StateRoot = c.stateRootAfter(t, parent, block)

	msg := core.SkipMessage(number, 1, parent.Hash())
	block.Justification.Skip.Signatures = c.committeeSign(msg)
	return c.remember(block)
}

// MacroBlock builds the checkpoint or election macro block after parent.
func (c *Chain) MacroBlock(t testing.TB, parent *core.Block) *core.Block {
	t.Helper()
	number := parent.Header.Number + 1
	entropy := parent.Header.Seed.Entropy()

	slot, ok := c.Cfg.Slots().GetProposerAt(number, 0, entropy)
	if !ok {
		t.Fatalf("no proposer for macro block %d", number)
	}
	priv := c.Keys[slot.PublicKey]

	body := &core.MacroBody{}
	if c.Cfg.Policy.IsElectionBlockAt(number) {
		body.Validators = c.Cfg.Slots()
	}
	block := &core.Block{
		Type: core.BlockMacro,
		Header: core.Header{
			Version:    core.BlockVersion,
			Number:     number,
			ParentHash: parent.Hash(),
			Seed:       crypto.NextSeed(priv, parent.Header.Seed),
			Timestamp:  parent.Header.Timestamp + 1000,
		},
		MacroBody: body,
	}
	block.Header.BodyRoot = body.Root()
	block.Header.HistoryRoot = c.historyRootFor(t, parent, block)
	block.Header.StateRoot = c.stateRootAfter(t, parent, block)

	msg := core.MacroMessage(block.Hash(), 0)
	block.Justification = &core.Justification{
		Tendermint: &core.TendermintProof{Round: 0, Signatures: c.committeeSign(msg)},
	}
	return c.remember(block)
}

func (c *Chain) remember(block *core.Block) *core.Block {
	c.lineage[block.Hash()] = block
	return block
}

func (c *Chain) committeeSign(msg []byte) []core.CommitteeSig {
	slots := c.Cfg.Slots()
	sigs := make([]core.CommitteeSig, 0, len(slots))
	for _, slot := range slots {
		sigs = append(sigs, core.CommitteeSig{
			SlotIndex: slot.Index,
			Signature: crypto.Sign(c.Keys[slot.PublicKey], msg),
		})
	}
	return sigs
}

// branchTo returns the chain of built blocks from genesis to tip inclusive.
func (c *Chain) branchTo(t testing.TB, tip *core.Block) []*core.Block {
	t.Helper()
	var chain []*core.Block
	for b := tip; ; {
		chain = append(chain, b)
		if b.Header.Number == 0 {
			break
		}
		parent, ok := c.lineage[b.Header.ParentHash]
		if !ok {
			t.Fatalf("unknown parent %s of built block %s", b.Header.ParentHash, b.String())
		}
		b = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// stateRootAfter replays the branch from genesis through parent plus the
// new block on a scratch store and returns the resulting accounts root.
func (c *Chain) stateRootAfter(t testing.TB, parent, block *core.Block) string {
	t.Helper()
	branch := append(c.branchTo(t, parent), block)

	scratch := NewMemDB()
	acc := accounts.New()
	txn, err := scratch.WriteTxn()
	if err != nil {
		t.Fatalf("scratch txn: %v", err)
	}
	defer txn.Abort()

	if err := acc.Seed(txn, c.Cfg.Genesis.Alloc); err != nil {
		t.Fatalf("seed scratch accounts: %v", err)
	}
	slots := c.Cfg.Slots()
	for i := 1; i < len(branch); i++ {
		b, prev := branch[i], branch[i-1]
		inherents := core.BuildInherents(c.Cfg.Policy, b, prev.Header.Seed.Entropy(), slots)
		if _, err := acc.Commit(txn, b.Transactions(), inherents, b.Header.Number); err != nil {
			t.Fatalf("replay commit of %s: %v", b.String(), err)
		}
	}
	return acc.Hash(txn)
}

// historyRootFor recomputes the batch history commitment for a block built
// on parent, mirroring the chain's own computation over the built lineage.
func (c *Chain) historyRootFor(t testing.TB, parent, block *core.Block) string {
	t.Helper()
	batchStart := c.Cfg.Policy.LastMacroBlock(block.Header.Number - 1)

	var txHashes []string
	for _, b := range c.branchTo(t, parent) {
		if b.Header.Number <= batchStart {
			continue
		}
		for _, tx := range b.Transactions() {
			txHashes = append(txHashes, tx.Hash())
		}
	}
	for _, tx := range block.Transactions() {
		txHashes = append(txHashes, tx.Hash())
	}

	var buf []byte
	for _, h := range txHashes {
		buf = append(buf, byte(len(h)>>8), byte(len(h)))
		buf = append(buf, h...)
	}
	return crypto.Hash(buf)
}

// AccountsRoot returns the live accounts root.
func (c *Chain) AccountsRoot(t testing.TB) string {
	t.Helper()
	root, err := c.BC.AccountsHash()
	if err != nil {
		t.Fatalf("accounts hash: %v", err)
	}
	return root
}
