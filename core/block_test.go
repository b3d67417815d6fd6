package core_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/internal/testutil"
)

func TestBlockHashIdentity(t *testing.T) {
	c := testutil.NewChain(t)
	b := c.MicroBlock(t, c.Genesis, []*core.Transaction{testutil.Tx(testutil.Alice, testutil.Bob, 1, 0, 0)})

	// The hash covers the header only and survives serialisation.
	var decoded core.Block
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, b.Hash(), decoded.Hash())

	stripped := b.StripBody()
	assert.Equal(t, b.Hash(), stripped.Hash())
	assert.Nil(t, stripped.MicroBody)
	assert.NotNil(t, stripped.Justification, "justification survives body stripping")

	restored := stripped.WithBody(b.MicroBody, nil)
	assert.Equal(t, b.Header.BodyRoot, restored.BodyRoot())
}

func TestBlockKinds(t *testing.T) {
	c := testutil.NewChain(t)

	micro := c.MicroBlock(t, c.Genesis, nil)
	assert.True(t, micro.IsMicro())
	assert.False(t, micro.IsMacro())
	assert.False(t, micro.IsSkip())
	assert.False(t, micro.IsElection())

	b1 := micro
	skip := c.SkipBlock(t, b1)
	assert.True(t, skip.IsMicro())
	assert.True(t, skip.IsSkip())

	assert.True(t, c.Genesis.IsMacro())
	assert.True(t, c.Genesis.IsElection())
}

func TestBodyRootChangesWithContent(t *testing.T) {
	empty := &core.MicroBody{}
	one := &core.MicroBody{Transactions: []*core.Transaction{testutil.Tx(testutil.Alice, testutil.Bob, 1, 0, 0)}}

	assert.NotEqual(t, empty.Root(), one.Root())
	assert.Equal(t, one.Root(), one.Root())
}

func TestForkProofValid(t *testing.T) {
	c := testutil.NewChain(t)
	b1 := c.MicroBlock(t, c.Genesis, nil)
	b1p := c.MicroBlockLosingTo(t, c.Genesis, nil, b1)

	proof := &core.ForkProof{
		Header1:        b1.Header,
		Header2:        b1p.Header,
		Justification1: b1.Justification.Micro,
		Justification2: b1p.Justification.Micro,
		PrevSeed:       c.Genesis.Header.Seed,
	}
	assert.True(t, proof.Valid())

	sameBlock := *proof
	sameBlock.Header2 = b1.Header
	assert.False(t, sameBlock.Valid(), "a proof needs two distinct blocks")

	differentHeight := *proof
	differentHeight.Header2.Number = 9
	assert.False(t, differentHeight.Valid())
}

func TestChainInfoWorkAccumulation(t *testing.T) {
	c := testutil.NewChain(t)

	b1 := c.MicroBlock(t, c.Genesis, nil)
	skip := c.SkipBlock(t, b1)

	genesisInfo := core.NewGenesisChainInfo(c.Genesis)
	require.True(t, genesisInfo.OnMainChain)

	b1Info := core.NewChainInfo(b1, genesisInfo)
	assert.False(t, b1Info.OnMainChain)
	assert.Equal(t, 1, b1Info.Work().Cmp(genesisInfo.Work()), "a child accumulates its parent's work")

	skipInfo := core.NewChainInfo(skip, b1Info)
	fullDelta := b1Info.Work().Uint64() - genesisInfo.Work().Uint64()
	skipDelta := skipInfo.Work().Uint64() - b1Info.Work().Uint64()
	assert.Less(t, skipDelta, fullDelta, "skip blocks carry less work than proposer-signed blocks")
}
