// Package storage implements the durable, transactional persistence layer:
// a LevelDB-backed key-value store with snapshot read transactions and
// two-phase write transactions, and the ChainStore built on top of it.
package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/halcyonet/skua/core"
)

// LevelDB implements core.TxnDB using LevelDB. Read transactions map to
// snapshots; the write transaction maps to LevelDB's single exclusive
// transaction, whose reads observe its own writes and whose Discard leaves
// the store untouched.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// ReadTxn returns a consistent snapshot of the store.
func (l *LevelDB) ReadTxn() (core.ReadTxn, error) {
	snap, err := l.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return &levelReadTxn{snap: snap}, nil
}

// WriteTxn opens the exclusive write transaction. It blocks until any
// previous transaction has been committed or discarded.
func (l *LevelDB) WriteTxn() (core.WriteTxn, error) {
	txn, err := l.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("open transaction: %w", err)
	}
	return &levelWriteTxn{txn: txn}, nil
}

// Close closes the underlying database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelReadTxn struct {
	snap *leveldb.Snapshot
}

func (t *levelReadTxn) Get(key []byte) ([]byte, error) {
	val, err := t.snap.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (t *levelReadTxn) NewIterator(prefix []byte) core.Iterator {
	return t.snap.NewIterator(util.BytesPrefix(prefix), nil)
}

func (t *levelReadTxn) Release() {
	t.snap.Release()
}

type levelWriteTxn struct {
	txn *leveldb.Transaction
}

func (t *levelWriteTxn) Get(key []byte) ([]byte, error) {
	val, err := t.txn.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (t *levelWriteTxn) NewIterator(prefix []byte) core.Iterator {
	return t.txn.NewIterator(util.BytesPrefix(prefix), nil)
}

func (t *levelWriteTxn) Put(key, value []byte) error {
	return t.txn.Put(key, value, nil)
}

func (t *levelWriteTxn) Delete(key []byte) error {
	return t.txn.Delete(key, nil)
}

func (t *levelWriteTxn) Commit() error {
	return t.txn.Commit()
}

func (t *levelWriteTxn) Abort() {
	t.txn.Discard()
}
