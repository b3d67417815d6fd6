// Command skua manages a chain-management node's data directory: genesis
// installation and chain inspection. Networking and block production live
// in the surrounding services.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/halcyonet/skua/accounts"
	"github.com/halcyonet/skua/config"
	"github.com/halcyonet/skua/core"
	"github.com/halcyonet/skua/storage"
)

func main() {
	app := &cli.App{
		Name:  "skua",
		Usage: "proof-of-stake chain-management core",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.json",
				Usage: "path to the JSON config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "create the data directory and install the genesis block",
				Action: runInit,
			},
			{
				Name:   "status",
				Usage:  "print head, macro head and election head",
				Action: runStatus,
			},
			{
				Name:   "head",
				Usage:  "dump the head block as JSON",
				Action: runHead,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return cfg, nil
}

// open wires the storage stack from the config.
func open(cfg *config.Config) (*storage.LevelDB, *storage.ChainStore, *accounts.Accounts, error) {
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open db: %w", err)
	}
	store, err := storage.NewChainStore(cfg.Policy, cfg.BodyCacheSize)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("chain store: %w", err)
	}
	return db, store, accounts.New(), nil
}

func runInit(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, store, acc, err := open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	block, err := config.InstallGenesis(db, store, acc, cfg)
	if errors.Is(err, config.ErrAlreadyInitialized) {
		return fmt.Errorf("data dir %s is already initialized", cfg.DataDir)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Genesis block installed: %s\n", block.Hash())
	return nil
}

func openChain(c *cli.Context) (*core.Blockchain, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	db, store, acc, err := open(cfg)
	if err != nil {
		return nil, nil, err
	}
	bc, err := core.NewBlockchain(db, store, acc, cfg.Policy, cfg.Params())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("blockchain: %w", err)
	}
	return bc, func() { db.Close() }, nil
}

func runStatus(c *cli.Context) error {
	bc, closeDB, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeDB()

	head := bc.Head()
	macro := bc.MacroHead()
	fmt.Printf("head:          %s (#%d)\n", bc.HeadHash(), head.Header.Number)
	fmt.Printf("macro head:    %s (#%d)\n", bc.MacroHeadHash(), macro.Header.Number)
	fmt.Printf("election head: %s\n", bc.ElectionHeadHash())
	fmt.Printf("validators:    %d\n", len(bc.CurrentValidators()))
	return nil
}

func runHead(c *cli.Context) error {
	bc, closeDB, err := openChain(c)
	if err != nil {
		return err
	}
	defer closeDB()

	block, err := bc.GetBlock(bc.HeadHash())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
