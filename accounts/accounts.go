// Package accounts implements the world-state engine: balances, nonces and
// the punished-slot set, stored through the chain store's transactions.
// Every commit produces receipts recording the pre-image of each touched
// key, so a revert restores the state bit-identically.
package accounts

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/crypto"
)

// State-key prefixes. Everything under prefixState is covered by Hash().
const (
	prefixState    = "ac:"
	prefixBalance  = "ac:b:" // account JSON by address
	prefixPunished = "ac:p:" // punished-slot marker by slot pubkey
)

// Semantic commit refusals surfaced to the push pipeline.
var (
	ErrInsufficientFunds = errors.New("accounts: insufficient funds")
	ErrInvalidNonce      = errors.New("accounts: invalid nonce")
	ErrInvalidReceipts   = errors.New("accounts: malformed receipts")
)

// Account holds a participant's balance and replay-protection nonce.
type Account struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Accounts implements core.Accounts. The zero value is not usable; use New.
type Accounts struct{}

// New creates the accounts engine.
func New() *Accounts {
	return &Accounts{}
}

// receiptEntry records one touched key and its prior value. Existed
// distinguishes a key that held an empty value from one that was absent.
type receiptEntry struct {
	Key     string `json:"key"`
	Prev    []byte `json:"prev,omitempty"`
	Existed bool   `json:"existed"`
}

// writer tracks pre-images while applying a block so the commit can be
// reverted exactly. Only the first touch of a key is recorded.
type writer struct {
	txn     core.WriteTxn
	entries []receiptEntry
	touched map[string]bool
}

func newWriter(txn core.WriteTxn) *writer {
	return &writer{txn: txn, touched: make(map[string]bool)}
}

func (w *writer) record(key string) error {
	if w.touched[key] {
		return nil
	}
	w.touched[key] = true
	prev, err := w.txn.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		w.entries = append(w.entries, receiptEntry{Key: key})
		return nil
	}
	if err != nil {
		return err
	}
	w.entries = append(w.entries, receiptEntry{Key: key, Prev: prev, Existed: true})
	return nil
}

func (w *writer) put(key string, value []byte) error {
	if err := w.record(key); err != nil {
		return err
	}
	return w.txn.Put([]byte(key), value)
}

func (w *writer) delete(key string) error {
	if err := w.record(key); err != nil {
		return err
	}
	return w.txn.Delete([]byte(key))
}

func getAccount(r core.Reader, address string) (*Account, error) {
	data, err := r.Get([]byte(prefixBalance + address))
	if errors.Is(err, core.ErrNotFound) {
		return &Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	return &acc, nil
}

func (w *writer) putAccount(address string, acc *Account) error {
	key := prefixBalance + address
	if acc.Balance == 0 && acc.Nonce == 0 {
		return w.delete(key)
	}
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return w.put(key, data)
}

// Commit applies the block's transactions and inherents at blockNumber and
// returns receipts enabling exact revert. On a semantic refusal the
// returned error carries no partial state: the caller aborts the write
// transaction.
func (a *Accounts) Commit(txn core.WriteTxn, txs []*core.Transaction, inherents []*core.Inherent, blockNumber uint32) (core.Receipts, error) {
	w := newWriter(txn)

	for _, tx := range txs {
		if err := a.applyTransaction(w, tx); err != nil {
			return nil, err
		}
	}
	for _, inh := range inherents {
		if err := a.applyInherent(w, inh, blockNumber); err != nil {
			return nil, err
		}
	}

	receipts, err := json.Marshal(w.entries)
	if err != nil {
		return nil, fmt.Errorf("encode receipts: %w", err)
	}
	return core.Receipts(receipts), nil
}

func (a *Accounts) applyTransaction(w *writer, tx *core.Transaction) error {
	sender, err := getAccount(w.txn, tx.Sender)
	if err != nil {
		return err
	}
	if tx.Nonce != sender.Nonce {
		return fmt.Errorf("%w: sender %s nonce %d, tx nonce %d", ErrInvalidNonce, tx.Sender, sender.Nonce, tx.Nonce)
	}
	total := tx.Value + tx.Fee
	if sender.Balance < total {
		return fmt.Errorf("%w: sender %s balance %d, needs %d", ErrInsufficientFunds, tx.Sender, sender.Balance, total)
	}

	sender.Balance -= total
	sender.Nonce++
	if err := w.putAccount(tx.Sender, sender); err != nil {
		return err
	}

	recipient, err := getAccount(w.txn, tx.Recipient)
	if err != nil {
		return err
	}
	recipient.Balance += tx.Value
	return w.putAccount(tx.Recipient, recipient)
	// The fee is burned.
}

func (a *Accounts) applyInherent(w *writer, inh *core.Inherent, blockNumber uint32) error {
	switch inh.Type {
	case core.InherentSlash:
		key := prefixPunished + inh.Target
		return w.put(key, []byte(inh.Data))

	case core.InherentFinalizeEpoch:
		// Settling an epoch clears the punished-slot set.
		keys, err := collectKeys(w.txn, []byte(prefixPunished))
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := w.delete(string(key)); err != nil {
				return err
			}
		}
		return nil

	case core.InherentReward:
		acc, err := getAccount(w.txn, inh.Target)
		if err != nil {
			return err
		}
		acc.Balance += inh.Value
		return w.putAccount(inh.Target, acc)

	default:
		return fmt.Errorf("accounts: unknown inherent type %q at block %d", inh.Type, blockNumber)
	}
}

// Revert undoes a previous Commit by restoring every touched key to its
// recorded pre-image, in reverse touch order.
func (a *Accounts) Revert(txn core.WriteTxn, txs []*core.Transaction, inherents []*core.Inherent, blockNumber uint32, receipts core.Receipts) error {
	var entries []receiptEntry
	if err := json.Unmarshal(receipts, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReceipts, err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !entry.Existed {
			if err := txn.Delete([]byte(entry.Key)); err != nil {
				return err
			}
			continue
		}
		if err := txn.Put([]byte(entry.Key), entry.Prev); err != nil {
			return err
		}
	}
	return nil
}

// Hash returns the deterministic root of the accounts state: a blake2b hash
// over all state keys and values in key order, length-prefixed against
// boundary ambiguity.
func (a *Accounts) Hash(r core.Reader) string {
	it := r.NewIterator([]byte(prefixState))
	defer it.Release()

	var buf bytes.Buffer
	var lenBuf [4]byte
	write := func(b []byte) {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}
	for it.Next() {
		write(it.Key())
		write(it.Value())
	}
	return crypto.Hash(buf.Bytes())
}

// GetBalance returns the balance of address as seen through r.
func (a *Accounts) GetBalance(r core.Reader, address string) (uint64, error) {
	acc, err := getAccount(r, address)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// GetNonce returns the next expected nonce of address.
func (a *Accounts) GetNonce(r core.Reader, address string) (uint64, error) {
	acc, err := getAccount(r, address)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// IsPunished reports whether the slot key is in the punished set.
func (a *Accounts) IsPunished(r core.Reader, slotKey string) (bool, error) {
	_, err := r.Get([]byte(prefixPunished + slotKey))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Seed credits the given balances directly, bypassing transaction
// semantics. Used once at genesis before the chain starts.
func (a *Accounts) Seed(txn core.WriteTxn, alloc map[string]uint64) error {
	w := newWriter(txn)
	for address, balance := range alloc {
		if err := w.putAccount(address, &Account{Balance: balance}); err != nil {
			return err
		}
	}
	return nil
}

func collectKeys(r core.Reader, prefix []byte) ([][]byte, error) {
	it := r.NewIterator(prefix)
	defer it.Release()
	var keys [][]byte
	for it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		keys = append(keys, key)
	}
	return keys, it.Error()
}
