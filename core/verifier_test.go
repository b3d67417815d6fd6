package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/accounts"
	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/crypto"
	"github.com/halcyonet/skua/internal/testutil"
)

const bogusRoot = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// pushExpecting pushes the block and asserts the given verification error.
func pushExpecting(t *testing.T, c *testutil.Chain, b *core.Block, reason error) {
	t.Helper()
	_, err := c.BC.Push(b)
	require.ErrorIs(t, err, core.ErrInvalidBlock)
	require.ErrorIs(t, err, reason)
}

func TestVerifyHeaderRejections(t *testing.T) {
	c := testutil.NewChain(t)

	t.Run("unsupported version", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Header.Version = 99
		pushExpecting(t, c, b, core.ErrUnsupportedVersion)
	})

	t.Run("extra data too large", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Header.ExtraData = string(make([]byte, 64))
		pushExpecting(t, c, b, core.ErrExtraDataTooLarge)
	})

	t.Run("from the future", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Header.Timestamp = uint64(time.Now().Add(time.Hour).UnixMilli())
		pushExpecting(t, c, b, core.ErrFromTheFuture)
	})

	t.Run("timestamp before parent", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Header.Timestamp = c.Genesis.Header.Timestamp - 1
		pushExpecting(t, c, b, core.ErrInvalidTimestamp)
	})

	t.Run("invalid seed", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Header.Seed = c.Genesis.Header.Seed // not derived by the proposer
		pushExpecting(t, c, b, core.ErrInvalidSeed)
	})
}

func TestVerifyWrongBlockTypeAtHeight(t *testing.T) {
	c := testutil.NewChain(t)
	chain := extendTo(t, c, 3)

	micro := c.MicroBlock(t, chain[2], nil) // height 4 is a macro height
	pushExpecting(t, c, micro, core.ErrWrongBlockType)
}

func TestVerifyJustificationRejections(t *testing.T) {
	c := testutil.NewChain(t)

	t.Run("missing", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.Justification = nil
		pushExpecting(t, c, b, core.ErrNoJustification)
	})

	t.Run("wrong signer", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		// Signed by some committee member, but not the slot proposer.
		slot, ok := c.Cfg.Slots().GetProposerAt(1, 1, c.Genesis.Header.Seed.Entropy())
		require.True(t, ok)
		for pub, priv := range c.Keys {
			if pub != slot.PublicKey {
				b.Justification.Micro = crypto.SignHash(priv, b.Hash())
				break
			}
		}
		pushExpecting(t, c, b, core.ErrInvalidJustification)
	})
}

func TestVerifySkipBlockRejections(t *testing.T) {
	c := testutil.NewChain(t)
	b1 := c.MicroBlock(t, c.Genesis, nil)
	mustPush(t, c, b1, core.PushExtended)

	t.Run("wrong timestamp", func(t *testing.T) {
		skip := c.SkipBlock(t, b1)
		skip.Header.Timestamp++
		pushExpecting(t, c, skip, core.ErrInvalidSkipTimestamp)
	})

	t.Run("fresh seed instead of parent seed", func(t *testing.T) {
		skip := c.SkipBlock(t, b1)
		skip.Header.Seed = c.Genesis.Header.Seed
		pushExpecting(t, c, skip, core.ErrInvalidSeed)
	})

	t.Run("non-empty body", func(t *testing.T) {
		skip := c.SkipBlock(t, b1)
		skip.MicroBody.Transactions = []*core.Transaction{testutil.Tx(testutil.Alice, testutil.Bob, 1, 0, 0)}
		skip.Header.BodyRoot = skip.MicroBody.Root()
		pushExpecting(t, c, skip, core.ErrInvalidSkipBlockBody)
	})

	t.Run("proof below quorum", func(t *testing.T) {
		skip := c.SkipBlock(t, b1)
		skip.Justification.Skip.Signatures = skip.Justification.Skip.Signatures[:1]
		pushExpecting(t, c, skip, core.ErrInvalidSkipProof)
	})
}

func TestVerifyBodyRejections(t *testing.T) {
	c := testutil.NewChain(t)

	t.Run("body hash mismatch", func(t *testing.T) {
		b := c.MicroBlock(t, c.Genesis, nil)
		b.MicroBody.Transactions = []*core.Transaction{testutil.Tx(testutil.Alice, testutil.Bob, 1, 0, 0)}
		pushExpecting(t, c, b, core.ErrBodyHashMismatch)
	})

	t.Run("duplicate transaction in block", func(t *testing.T) {
		tx := testutil.Tx(testutil.Alice, testutil.Bob, 5, 1, 0)
		b := c.BuildMicroBlock(t, c.Genesis, []*core.Transaction{tx, tx}, "", bogusRoot)
		pushExpecting(t, c, b, core.ErrDuplicateTxInBlock)
	})

	t.Run("malformed transaction", func(t *testing.T) {
		b := c.BuildMicroBlock(t, c.Genesis, []*core.Transaction{testutil.Tx("", testutil.Bob, 1, 0, 0)}, "", bogusRoot)
		pushExpecting(t, c, b, core.ErrInvalidTransaction)
	})
}

func TestVerifyForkProofRejections(t *testing.T) {
	c := testutil.NewChain(t)

	b1 := c.MicroBlock(t, c.Genesis, nil)
	b1p := c.MicroBlockLosingTo(t, c.Genesis, nil, b1)
	mustPush(t, c, b1, core.PushExtended)

	proof := &core.ForkProof{
		Header1:        b1.Header,
		Header2:        b1p.Header,
		Justification1: b1.Justification.Micro,
		Justification2: b1p.Justification.Micro,
		PrevSeed:       c.Genesis.Header.Seed,
	}
	require.True(t, proof.Valid())

	withProofs := func(proofs []*core.ForkProof) *core.Block {
		b := c.BuildMicroBlock(t, b1, nil, "", bogusRoot)
		b.MicroBody.ForkProofs = proofs
		b.Header.BodyRoot = b.MicroBody.Root()
		return b
	}

	t.Run("duplicate", func(t *testing.T) {
		pushExpecting(t, c, withProofs([]*core.ForkProof{proof, proof}), core.ErrDuplicateForkProof)
	})

	t.Run("invalid", func(t *testing.T) {
		bad := *proof
		bad.Header2.Number = 7
		pushExpecting(t, c, withProofs([]*core.ForkProof{&bad}), core.ErrInvalidForkProof)
	})

	t.Run("unordered", func(t *testing.T) {
		b1q := c.MicroBlockLosingTo(t, c.Genesis, nil, b1p)
		proof2 := &core.ForkProof{
			Header1:        b1.Header,
			Header2:        b1q.Header,
			Justification1: b1.Justification.Micro,
			Justification2: b1q.Justification.Micro,
			PrevSeed:       c.Genesis.Header.Seed,
		}
		require.True(t, proof2.Valid())
		ordered := []*core.ForkProof{proof, proof2}
		if ordered[0].Hash() < ordered[1].Hash() {
			ordered[0], ordered[1] = ordered[1], ordered[0]
		}
		pushExpecting(t, c, withProofs(ordered), core.ErrForkProofsNotOrdered)
	})
}

func TestVerifyMacroValidatorsMismatch(t *testing.T) {
	c := testutil.NewChain(t)
	chain := extendTo(t, c, 7)

	// An election block must carry the next committee.
	election := c.MacroBlock(t, chain[6])
	election.MacroBody.Validators = nil
	election.Header.BodyRoot = election.MacroBody.Root()
	pushExpecting(t, c, election, core.ErrInvalidValidators)
}

func TestVerifyHistoryRootMismatch(t *testing.T) {
	c := testutil.NewChain(t)

	// Hand-build an otherwise valid successor whose header commits to a
	// wrong history root. It survives every stateless check and the
	// accounts commit, and dies in the post-commit state check.
	parent := c.Genesis
	slot, ok := c.Cfg.Slots().GetProposerAt(1, 1, parent.Header.Seed.Entropy())
	require.True(t, ok)
	priv := c.Keys[slot.PublicKey]

	body := &core.MicroBody{}
	b := &core.Block{
		Type: core.BlockMicro,
		Header: core.Header{
			Version:     core.BlockVersion,
			Number:      1,
			ParentHash:  parent.Hash(),
			Seed:        crypto.NextSeed(priv, parent.Header.Seed),
			Timestamp:   parent.Header.Timestamp + 1000,
			BodyRoot:    body.Root(),
			HistoryRoot: bogusRoot,
			StateRoot:   parent.Header.StateRoot, // empty block: state unchanged
		},
		MicroBody: body,
	}
	b.Justification = &core.Justification{Micro: crypto.SignHash(priv, b.Hash())}

	pushExpecting(t, c, b, core.ErrInvalidHistoryRoot)
	assert.Equal(t, c.Genesis.Hash(), c.BC.HeadHash())
}

func TestVerifyAccountsRejection(t *testing.T) {
	c := testutil.NewChain(t)

	// Spending more than the sender holds is refused by the accounts
	// engine, surfacing as an accounts error rather than a block error.
	tx := testutil.Tx(testutil.Alice, testutil.Bob, 2_000_000, 0, 0)
	b := c.BuildMicroBlock(t, c.Genesis, []*core.Transaction{tx}, "", bogusRoot)
	_, err := c.BC.Push(b)
	require.ErrorIs(t, err, core.ErrAccounts)
	require.ErrorIs(t, err, accounts.ErrInsufficientFunds)
	assert.Equal(t, c.Genesis.Hash(), c.BC.HeadHash())
}
