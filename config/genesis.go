package config

import (
	"errors"
	"fmt"

	"github.com/halcyonet/skua/accounts"
	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/crypto"
)

// ErrAlreadyInitialized is returned by InstallGenesis when the store
// already has a head.
var ErrAlreadyInitialized = errors.New("store already initialized")

// genesisSeed derives the deterministic VRF seed of block 0 from the chain
// identifier. Every later seed chains off it.
func genesisSeed(chainID string) crypto.VrfSeed {
	return crypto.VrfSeed(crypto.Hash([]byte("seed:" + chainID)))
}

// CreateGenesisBlock builds block 0: the first election macro block,
// carrying the genesis committee and committing to the seeded accounts
// state. The accounts must already be seeded inside txn so the state root
// can be computed.
func CreateGenesisBlock(cfg *Config, acc *accounts.Accounts, txn core.WriteTxn) *core.Block {
	body := &core.MacroBody{Validators: cfg.Slots()}
	block := &core.Block{
		Type: core.BlockMacro,
		Header: core.Header{
			Version:     core.BlockVersion,
			Number:      0,
			ParentHash:  crypto.ZeroHash,
			Seed:        genesisSeed(cfg.Genesis.ChainID),
			StateRoot:   acc.Hash(txn),
			BodyRoot:    body.Root(),
			HistoryRoot: crypto.Hash(nil),
			Timestamp:   cfg.Genesis.Timestamp,
			ExtraData:   cfg.Genesis.ChainID,
		},
		MacroBody: body,
	}
	return block
}

// InstallGenesis seeds the initial balances and writes the genesis block
// into an empty store, so the head state root matches the accounts root
// from the first startup.
func InstallGenesis(db core.TxnDB, store core.ChainStore, acc *accounts.Accounts, cfg *Config) (*core.Block, error) {
	txn, err := db.WriteTxn()
	if err != nil {
		return nil, fmt.Errorf("open write txn: %w", err)
	}

	if _, err := store.GetHead(txn); err == nil {
		txn.Abort()
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, core.ErrNotFound) {
		txn.Abort()
		return nil, fmt.Errorf("check head: %w", err)
	}

	if err := acc.Seed(txn, cfg.Genesis.Alloc); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("seed genesis accounts: %w", err)
	}

	block := CreateGenesisBlock(cfg, acc, txn)
	hash := block.Hash()

	if err := store.PutChainInfo(txn, hash, core.NewGenesisChainInfo(block), true); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("store genesis: %w", err)
	}
	if err := store.SetHead(txn, hash); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("set head: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	return block, nil
}
