// Package testutil provides in-memory implementations of the storage
// interfaces and chain-building scaffolding for tests across the module.
// Never import this in production code.
package testutil

import (
	"sort"
	"strings"
	"sync"

	"github.com/halcyonet/skua/core"
)

// MemDB is a thread-safe in-memory core.TxnDB with the same transaction
// semantics as the LevelDB implementation: snapshot read transactions and a
// single exclusive write transaction whose reads see its own writes.
type MemDB struct {
	mu      sync.RWMutex
	data    map[string][]byte
	writeMu sync.Mutex // mirrors LevelDB's single open transaction
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp
}

// ReadTxn returns a consistent snapshot.
func (m *MemDB) ReadTxn() (core.ReadTxn, error) {
	return &memReadTxn{data: m.snapshot()}, nil
}

// WriteTxn opens the exclusive write transaction. It blocks until any
// previous transaction has been committed or aborted.
func (m *MemDB) WriteTxn() (core.WriteTxn, error) {
	m.writeMu.Lock()
	return &memWriteTxn{
		db:      m,
		base:    m.snapshot(),
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}, nil
}

// Close releases nothing; it exists to satisfy core.TxnDB.
func (m *MemDB) Close() error { return nil }

type memReadTxn struct {
	data map[string][]byte
}

func (t *memReadTxn) Get(key []byte) ([]byte, error) {
	v, ok := t.data[string(key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (t *memReadTxn) NewIterator(prefix []byte) core.Iterator {
	return newMemIter(t.data, nil, nil, string(prefix))
}

func (t *memReadTxn) Release() {}

type memWriteTxn struct {
	db      *MemDB
	base    map[string][]byte
	writes  map[string][]byte
	deletes map[string]bool
	done    bool
}

func (t *memWriteTxn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if t.deletes[k] {
		return nil, core.ErrNotFound
	}
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	v, ok := t.base[k]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (t *memWriteTxn) NewIterator(prefix []byte) core.Iterator {
	return newMemIter(t.base, t.writes, t.deletes, string(prefix))
}

func (t *memWriteTxn) Put(key, value []byte) error {
	k := string(key)
	delete(t.deletes, k)
	cp := make([]byte, len(value))
	copy(cp, value)
	t.writes[k] = cp
	return nil
}

func (t *memWriteTxn) Delete(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *memWriteTxn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.mu.Lock()
	for k, v := range t.writes {
		t.db.data[k] = v
	}
	for k := range t.deletes {
		delete(t.db.data, k)
	}
	t.db.mu.Unlock()
	t.db.writeMu.Unlock()
	return nil
}

func (t *memWriteTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.db.writeMu.Unlock()
}

type kv struct{ k, v []byte }

type memIter struct {
	pairs []kv
	idx   int
}

func newMemIter(base, writes map[string][]byte, deletes map[string]bool, prefix string) *memIter {
	merged := make(map[string][]byte)
	for k, v := range base {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k, v := range writes {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range deletes {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]kv, len(keys))
	for i, k := range keys {
		v := merged[k]
		cp := make([]byte, len(v))
		copy(cp, v)
		pairs[i] = kv{k: []byte(k), v: cp}
	}
	return &memIter{pairs: pairs, idx: -1}
}

func (it *memIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *memIter) Key() []byte   { return it.pairs[it.idx].k }
func (it *memIter) Value() []byte { return it.pairs[it.idx].v }
func (it *memIter) Release()      {}
func (it *memIter) Error() error  { return nil }
