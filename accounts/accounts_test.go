package accounts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonet/skua/accounts"
	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/internal/testutil"
)

func newState(t *testing.T, alloc map[string]uint64) (*testutil.MemDB, *accounts.Accounts) {
	t.Helper()
	db := testutil.NewMemDB()
	acc := accounts.New()
	txn, err := db.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, acc.Seed(txn, alloc))
	require.NoError(t, txn.Commit())
	return db, acc
}

func TestCommitTransfer(t *testing.T) {
	db, acc := newState(t, map[string]uint64{"alice": 100})

	txn, err := db.WriteTxn()
	require.NoError(t, err)
	txs := []*core.Transaction{{Sender: "alice", Recipient: "bob", Value: 30, Fee: 2, Nonce: 0}}
	receipts, err := acc.Commit(txn, txs, nil, 1)
	require.NoError(t, err)
	require.NotEmpty(t, receipts)
	require.NoError(t, txn.Commit())

	r, err := db.ReadTxn()
	require.NoError(t, err)
	defer r.Release()

	balance, err := acc.GetBalance(r, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(68), balance, "value and fee leave the sender; the fee is burned")

	balance, err = acc.GetBalance(r, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), balance)

	nonce, err := acc.GetNonce(r, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestCommitRefusals(t *testing.T) {
	db, acc := newState(t, map[string]uint64{"alice": 10})

	txn, err := db.WriteTxn()
	require.NoError(t, err)
	defer txn.Abort()

	_, err = acc.Commit(txn, []*core.Transaction{{Sender: "alice", Recipient: "bob", Value: 100, Nonce: 0}}, nil, 1)
	assert.ErrorIs(t, err, accounts.ErrInsufficientFunds)

	_, err = acc.Commit(txn, []*core.Transaction{{Sender: "alice", Recipient: "bob", Value: 1, Nonce: 5}}, nil, 1)
	assert.ErrorIs(t, err, accounts.ErrInvalidNonce)
}

func TestRevertRestoresRootExactly(t *testing.T) {
	db, acc := newState(t, map[string]uint64{"alice": 100, "bob": 50})

	r, err := db.ReadTxn()
	require.NoError(t, err)
	before := acc.Hash(r)
	r.Release()

	txn, err := db.WriteTxn()
	require.NoError(t, err)
	defer txn.Abort()

	txs := []*core.Transaction{
		{Sender: "alice", Recipient: "carol", Value: 40, Fee: 1, Nonce: 0},
		{Sender: "bob", Recipient: "alice", Value: 10, Nonce: 0},
	}
	inherents := []*core.Inherent{{Type: core.InherentSlash, Target: "validator-0", Data: "view:1:0"}}

	receipts, err := acc.Commit(txn, txs, inherents, 1)
	require.NoError(t, err)
	require.NotEqual(t, before, acc.Hash(txn))

	require.NoError(t, acc.Revert(txn, txs, inherents, 1, receipts))
	assert.Equal(t, before, acc.Hash(txn), "revert must restore the root bit-identically")
}

func TestInherents(t *testing.T) {
	db, acc := newState(t, map[string]uint64{})

	txn, err := db.WriteTxn()
	require.NoError(t, err)
	defer txn.Abort()

	_, err = acc.Commit(txn, nil, []*core.Inherent{
		{Type: core.InherentSlash, Target: "v0", Data: "fork:3"},
		{Type: core.InherentReward, Target: "v1", Value: 500},
	}, 3)
	require.NoError(t, err)

	punished, err := acc.IsPunished(txn, "v0")
	require.NoError(t, err)
	assert.True(t, punished)

	balance, err := acc.GetBalance(txn, "v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)

	// Epoch finalization clears the punished set.
	_, err = acc.Commit(txn, nil, []*core.Inherent{{Type: core.InherentFinalizeEpoch}}, 8)
	require.NoError(t, err)
	punished, err = acc.IsPunished(txn, "v0")
	require.NoError(t, err)
	assert.False(t, punished)
}

func TestHashDeterministic(t *testing.T) {
	alloc := map[string]uint64{"alice": 1, "bob": 2, "carol": 3}
	db1, acc1 := newState(t, alloc)
	db2, acc2 := newState(t, alloc)

	r1, err := db1.ReadTxn()
	require.NoError(t, err)
	defer r1.Release()
	r2, err := db2.ReadTxn()
	require.NoError(t, err)
	defer r2.Release()

	assert.Equal(t, acc1.Hash(r1), acc2.Hash(r2))
}

func TestRevertRejectsGarbageReceipts(t *testing.T) {
	db, acc := newState(t, nil)
	txn, err := db.WriteTxn()
	require.NoError(t, err)
	defer txn.Abort()

	err = acc.Revert(txn, nil, nil, 1, core.Receipts("not json"))
	assert.ErrorIs(t, err, accounts.ErrInvalidReceipts)
}
