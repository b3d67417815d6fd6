// Package config holds the node configuration: storage paths, logging, the
// consensus parameters all nodes must agree on, and the genesis definition.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/policy"
)

// GenesisValidator is one committee seat of the genesis election.
type GenesisValidator struct {
	PublicKey string `json:"public_key"` // hex-encoded ed25519 key
	Weight    uint32 `json:"weight"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID    string             `json:"chain_id"`
	Timestamp  uint64             `json:"timestamp"` // unix milliseconds
	Validators []GenesisValidator `json:"validators"`
	Alloc      map[string]uint64  `json:"alloc"` // address → initial balance
}

// ConsensusConfig carries the network-wide verification and ordering
// parameters.
type ConsensusConfig struct {
	MaxTimeDriftMillis   uint64 `json:"max_time_drift_millis"`
	SkipBlockDelayMillis uint64 `json:"skip_block_delay_millis"`
	MaxExtraDataLen      int    `json:"max_extra_data_len"`
	// PreferLowTieBreak selects the smaller tip hash when two chains are
	// otherwise equal. All nodes must agree on the direction.
	PreferLowTieBreak bool `json:"prefer_low_tie_break"`
}

// Config holds all node configuration.
type Config struct {
	DataDir         string          `json:"data_dir"`
	LogLevel        string          `json:"log_level"`
	EventBufferSize int             `json:"event_buffer_size"`
	BodyCacheSize   int             `json:"body_cache_size"`
	Policy          policy.Policy   `json:"policy"`
	Consensus       ConsensusConfig `json:"consensus"`
	Genesis         GenesisConfig   `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration. The
// genesis section must still be filled in before use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         "./data",
		LogLevel:        "info",
		EventBufferSize: 64,
		BodyCacheSize:   512,
		Policy:          policy.Default(),
		Consensus: ConsensusConfig{
			MaxTimeDriftMillis:   15_000,
			SkipBlockDelayMillis: 8_000,
			MaxExtraDataLen:      32,
			PreferLowTieBreak:    true,
		},
	}
}

// Load reads a JSON config file from path and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if len(c.Genesis.Validators) == 0 {
		return fmt.Errorf("genesis.validators must not be empty")
	}
	for i, v := range c.Genesis.Validators {
		b, err := hex.DecodeString(v.PublicKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("genesis.validators[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v.PublicKey)
		}
		if v.Weight == 0 {
			return fmt.Errorf("genesis.validators[%d]: weight must be positive", i)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Consensus.MaxExtraDataLen < 0 {
		return fmt.Errorf("consensus.max_extra_data_len must not be negative")
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Params converts the consensus section into core parameters.
func (c *Config) Params() core.Params {
	return core.Params{
		MaxTimeDrift:      time.Duration(c.Consensus.MaxTimeDriftMillis) * time.Millisecond,
		SkipBlockDelay:    time.Duration(c.Consensus.SkipBlockDelayMillis) * time.Millisecond,
		MaxExtraDataLen:   c.Consensus.MaxExtraDataLen,
		PreferLowTieBreak: c.Consensus.PreferLowTieBreak,
		EventBufferSize:   c.EventBufferSize,
	}
}

// Slots converts the genesis validator list into committee slots.
func (c *Config) Slots() core.Validators {
	slots := make(core.Validators, len(c.Genesis.Validators))
	for i, v := range c.Genesis.Validators {
		slots[i] = core.Slot{Index: uint16(i), PublicKey: v.PublicKey, Weight: v.Weight}
	}
	return slots
}
