package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/policy"
)

func testPolicy() policy.Policy {
	return policy.Policy{BlocksPerBatch: 4, BatchesPerEpoch: 2, MaxEpochsStored: 2, TxValidityWindow: 16}
}

func TestCadencePredicates(t *testing.T) {
	p := testPolicy()
	require.Equal(t, uint32(8), p.BlocksPerEpoch())

	assert.True(t, p.IsMacroBlockAt(0), "genesis counts as a macro block")
	assert.True(t, p.IsElectionBlockAt(0), "genesis is the first election block")
	assert.False(t, p.IsMacroBlockAt(1))
	assert.True(t, p.IsMicroBlockAt(3))
	assert.True(t, p.IsMacroBlockAt(4))
	assert.False(t, p.IsElectionBlockAt(4))
	assert.True(t, p.IsElectionBlockAt(8))
	assert.True(t, p.IsMacroBlockAt(8))
}

func TestLastMacroAndElection(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, uint32(0), p.LastMacroBlock(3))
	assert.Equal(t, uint32(4), p.LastMacroBlock(4))
	assert.Equal(t, uint32(4), p.LastMacroBlock(7))
	assert.Equal(t, uint32(8), p.LastMacroBlock(9))

	assert.Equal(t, uint32(0), p.LastElectionBlock(7))
	assert.Equal(t, uint32(8), p.LastElectionBlock(8))
	assert.Equal(t, uint32(8), p.LastElectionBlock(15))
}

func TestEpochAndBatchBoundaries(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, uint32(0), p.EpochAt(0))
	assert.Equal(t, uint32(1), p.EpochAt(1))
	assert.Equal(t, uint32(1), p.EpochAt(8), "the closing election block belongs to its epoch")
	assert.Equal(t, uint32(2), p.EpochAt(9))

	assert.Equal(t, uint32(1), p.BatchAt(4))
	assert.Equal(t, uint32(2), p.BatchAt(5))

	assert.Equal(t, uint32(1), p.FirstBlockOfEpoch(1))
	assert.Equal(t, uint32(8), p.LastBlockOfEpoch(1))
	assert.Equal(t, uint32(9), p.FirstBlockOfEpoch(2))
	assert.Equal(t, uint32(16), p.LastBlockOfEpoch(2))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, policy.Default().Validate())

	bad := testPolicy()
	bad.BlocksPerBatch = 1
	assert.Error(t, bad.Validate())

	bad = testPolicy()
	bad.BatchesPerEpoch = 0
	assert.Error(t, bad.Validate())

	bad = testPolicy()
	bad.MaxEpochsStored = 0
	assert.Error(t, bad.Validate())
}
