package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Iterator walks key-value pairs matching a prefix in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Reader is the read surface shared by read transactions and write
// transactions. Reads through a write transaction observe that
// transaction's own writes.
type Reader interface {
	Get(key []byte) ([]byte, error)
	NewIterator(prefix []byte) Iterator
}

// ReadTxn is a consistent read-only view of the store. Many may be held
// concurrently. Release must be called when done.
type ReadTxn interface {
	Reader
	Release()
}

// WriteTxn is an exclusive two-phase write transaction. All mutations are
// isolated until Commit; Abort leaves the store byte-identical to the
// pre-transaction state.
type WriteTxn interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Abort()
}

// TxnDB hands out transactions over a durable key-value store.
// Implementations live in the storage package.
type TxnDB interface {
	ReadTxn() (ReadTxn, error)
	WriteTxn() (WriteTxn, error)
	Close() error
}

// ChainStore persists blocks, chain-info, receipts, the head pointer and
// the transaction history index. Implementations live in the storage
// package.
type ChainStore interface {
	// GetChainInfo returns the chain info stored under hash, with the block
	// body attached when includeBody is set and a body was materialized.
	// Returns ErrNotFound if the hash is unknown.
	GetChainInfo(hash string, includeBody bool, r Reader) (*ChainInfo, error)

	// GetChainInfoAt returns the main-chain info at the given height.
	GetChainInfoAt(height uint32, includeBody bool, r Reader) (*ChainInfo, error)

	// GetBlocksAt returns all known blocks at a height, including blocks off
	// the main chain.
	GetBlocksAt(height uint32, includeBody bool, r Reader) ([]*Block, error)

	// PutChainInfo stores info under hash. The block body is written only
	// when includeBody is set; a body written earlier stays in place.
	PutChainInfo(txn WriteTxn, hash string, info *ChainInfo, includeBody bool) error

	// RemoveChainInfo deletes the chain info, body and height-index entry.
	RemoveChainInfo(txn WriteTxn, hash string, height uint32) error

	GetHead(r Reader) (string, error)
	SetHead(txn WriteTxn, hash string) error

	PutReceipts(txn WriteTxn, height uint32, receipts Receipts) error
	GetReceipts(height uint32, r Reader) (Receipts, error)
	// ClearReceipts drops all stored receipts. Called at macro-block
	// finalization, after which no revert below the macro block is possible.
	ClearReceipts(txn WriteTxn) error

	// PutTxIndex records every transaction of a main-chain block in the
	// history index; RemoveTxIndex undoes it when the block is reverted.
	PutTxIndex(txn WriteTxn, block *Block) error
	RemoveTxIndex(txn WriteTxn, block *Block) error
	// GetTxBlockNumber returns the main-chain height a transaction hash was
	// included at, if any.
	GetTxBlockNumber(txHash string, r Reader) (uint32, bool, error)

	// PruneEpoch removes all chain-info entries of the given epoch except
	// its election block, along with their bodies and index entries.
	PruneEpoch(txn WriteTxn, epoch uint32) error
}
