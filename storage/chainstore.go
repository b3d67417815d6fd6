package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru"

	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/policy"
)

// Key layout. Height-keyed entries use zero-padded decimal so that prefix
// iteration walks them in height order.
//
//	ci:<hash>            chain info (body stripped)
//	bd:<hash>            block body
//	ht:<height>:<hash>   blocks-at-height index
//	rc:<height>          receipts
//	tx:<txhash>          history index: inclusion height
//	head                 head pointer
const (
	prefixChainInfo = "ci:"
	prefixBody      = "bd:"
	prefixHeight    = "ht:"
	prefixReceipts  = "rc:"
	prefixTx        = "tx:"
	keyHead         = "head"
)

// DefaultBodyCacheSize is the number of block bodies kept in memory.
const DefaultBodyCacheSize = 512

func chainInfoKey(hash string) []byte { return []byte(prefixChainInfo + hash) }
func bodyKey(hash string) []byte      { return []byte(prefixBody + hash) }
func heightPrefix(height uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d:", prefixHeight, height))
}
func heightKey(height uint32, hash string) []byte {
	return append(heightPrefix(height), hash...)
}
func receiptsKey(height uint32) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixReceipts, height))
}
func txKey(txHash string) []byte { return []byte(prefixTx + txHash) }

// bodyEnvelope serialises whichever body variant a block carries.
type bodyEnvelope struct {
	Micro *core.MicroBody `json:"micro,omitempty"`
	Macro *core.MacroBody `json:"macro,omitempty"`
}

// ChainStore implements core.ChainStore on a transactional key-value store.
// Block bodies are content-addressed by block hash and fronted by an LRU
// cache; chain-info entries are mutable (main-chain flags flip during
// rebranch) and always read through the supplied transaction.
type ChainStore struct {
	pol       policy.Policy
	bodyCache *lru.Cache
}

// NewChainStore creates a ChainStore. cacheSize 0 selects the default body
// cache size.
func NewChainStore(pol policy.Policy, cacheSize int) (*ChainStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultBodyCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &ChainStore{pol: pol, bodyCache: cache}, nil
}

// GetChainInfo returns the chain info stored under hash.
func (s *ChainStore) GetChainInfo(hash string, includeBody bool, r core.Reader) (*core.ChainInfo, error) {
	data, err := r.Get(chainInfoKey(hash))
	if err != nil {
		return nil, err
	}
	var info core.ChainInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode chain info %s: %w", hash, err)
	}
	if includeBody {
		if body, err := s.getBody(hash, r); err == nil {
			info.Head = info.Head.WithBody(body.Micro, body.Macro)
		}
	}
	return &info, nil
}

func (s *ChainStore) getBody(hash string, r core.Reader) (*bodyEnvelope, error) {
	var data []byte
	if v, ok := s.bodyCache.Get(hash); ok {
		data = v.([]byte)
	} else {
		var err error
		data, err = r.Get(bodyKey(hash))
		if err != nil {
			return nil, err
		}
		s.bodyCache.Add(hash, data)
	}
	var env bodyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode body %s: %w", hash, err)
	}
	return &env, nil
}

// GetChainInfoAt returns the main-chain info at the given height.
func (s *ChainStore) GetChainInfoAt(height uint32, includeBody bool, r core.Reader) (*core.ChainInfo, error) {
	hashes, err := s.hashesAt(height, r)
	if err != nil {
		return nil, err
	}
	for _, hash := range hashes {
		info, err := s.GetChainInfo(hash, includeBody, r)
		if err != nil {
			return nil, err
		}
		if info.OnMainChain {
			return info, nil
		}
	}
	return nil, core.ErrNotFound
}

// GetBlocksAt returns all known blocks at a height, main chain or not.
func (s *ChainStore) GetBlocksAt(height uint32, includeBody bool, r core.Reader) ([]*core.Block, error) {
	hashes, err := s.hashesAt(height, r)
	if err != nil {
		return nil, err
	}
	blocks := make([]*core.Block, 0, len(hashes))
	for _, hash := range hashes {
		info, err := s.GetChainInfo(hash, includeBody, r)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, err
		}
		blocks = append(blocks, info.Head)
	}
	return blocks, nil
}

func (s *ChainStore) hashesAt(height uint32, r core.Reader) ([]string, error) {
	prefix := heightPrefix(height)
	it := r.NewIterator(prefix)
	defer it.Release()
	var hashes []string
	for it.Next() {
		hashes = append(hashes, string(it.Key()[len(prefix):]))
	}
	return hashes, it.Error()
}

// PutChainInfo stores info under hash and maintains the height index. The
// body is written only when includeBody is set; bodies are content
// addressed, so a body written earlier stays valid.
func (s *ChainStore) PutChainInfo(txn core.WriteTxn, hash string, info *core.ChainInfo, includeBody bool) error {
	stripped := *info
	stripped.Head = info.Head.StripBody()
	data, err := json.Marshal(&stripped)
	if err != nil {
		return fmt.Errorf("encode chain info: %w", err)
	}
	if err := txn.Put(chainInfoKey(hash), data); err != nil {
		return err
	}
	if err := txn.Put(heightKey(info.Head.Header.Number, hash), nil); err != nil {
		return err
	}
	if includeBody && info.Head.HasBody() {
		env := bodyEnvelope{Micro: info.Head.MicroBody, Macro: info.Head.MacroBody}
		body, err := json.Marshal(&env)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		if err := txn.Put(bodyKey(hash), body); err != nil {
			return err
		}
		s.bodyCache.Add(hash, body)
	}
	return nil
}

// RemoveChainInfo deletes the chain info, body and height-index entry.
func (s *ChainStore) RemoveChainInfo(txn core.WriteTxn, hash string, height uint32) error {
	if err := txn.Delete(chainInfoKey(hash)); err != nil {
		return err
	}
	if err := txn.Delete(bodyKey(hash)); err != nil {
		return err
	}
	if err := txn.Delete(heightKey(height, hash)); err != nil {
		return err
	}
	s.bodyCache.Remove(hash)
	return nil
}

// GetHead returns the head pointer.
func (s *ChainStore) GetHead(r core.Reader) (string, error) {
	data, err := r.Get([]byte(keyHead))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetHead updates the head pointer.
func (s *ChainStore) SetHead(txn core.WriteTxn, hash string) error {
	return txn.Put([]byte(keyHead), []byte(hash))
}

// PutReceipts stores a micro block's receipts by height.
func (s *ChainStore) PutReceipts(txn core.WriteTxn, height uint32, receipts core.Receipts) error {
	return txn.Put(receiptsKey(height), receipts)
}

// GetReceipts loads the receipts stored at height.
func (s *ChainStore) GetReceipts(height uint32, r core.Reader) (core.Receipts, error) {
	data, err := r.Get(receiptsKey(height))
	if err != nil {
		return nil, err
	}
	return core.Receipts(data), nil
}

// ClearReceipts drops all stored receipts.
func (s *ChainStore) ClearReceipts(txn core.WriteTxn) error {
	keys, err := collectKeys(txn, []byte(prefixReceipts))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// PutTxIndex records every transaction of the block in the history index.
func (s *ChainStore) PutTxIndex(txn core.WriteTxn, block *core.Block) error {
	height := []byte(strconv.FormatUint(uint64(block.Header.Number), 10))
	for _, tx := range block.Transactions() {
		if err := txn.Put(txKey(tx.Hash()), height); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTxIndex drops the block's transactions from the history index.
func (s *ChainStore) RemoveTxIndex(txn core.WriteTxn, block *core.Block) error {
	for _, tx := range block.Transactions() {
		if err := txn.Delete(txKey(tx.Hash())); err != nil {
			return err
		}
	}
	return nil
}

// GetTxBlockNumber returns the main-chain height a transaction was included
// at.
func (s *ChainStore) GetTxBlockNumber(txHash string, r core.Reader) (uint32, bool, error) {
	data, err := r.Get(txKey(txHash))
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	height, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("decode tx index entry: %w", err)
	}
	return uint32(height), true, nil
}

// PruneEpoch removes all chain-info entries of the given epoch except its
// election block, together with their bodies and index entries. Historic
// election blocks stay so that old validator sets remain answerable.
func (s *ChainStore) PruneEpoch(txn core.WriteTxn, epoch uint32) error {
	first := s.pol.FirstBlockOfEpoch(epoch)
	last := s.pol.LastBlockOfEpoch(epoch)
	for height := first; height <= last; height++ {
		hashes, err := s.hashesAt(height, txn)
		if err != nil {
			return err
		}
		for _, hash := range hashes {
			info, err := s.GetChainInfo(hash, true, txn)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					continue
				}
				return err
			}
			if info.Head.IsElection() {
				continue
			}
			if info.OnMainChain {
				if err := s.RemoveTxIndex(txn, info.Head); err != nil {
					return err
				}
			}
			if err := s.RemoveChainInfo(txn, hash, height); err != nil {
				return err
			}
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
