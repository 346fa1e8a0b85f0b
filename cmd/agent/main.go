// Command agent is the indexer's entry point: it wires configuration,
// logging, the relational store, the embedded KV-backed balance stores, and
// starts the downloader/builder loop. Grounded on klaytn's cmd/* urfave/cli
// bootstrap style and on the original's main.rs (dotenv + log4rs init +
// tokio::join!(block_check_loop(db))).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/builder"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/config"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/dbx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/downloader"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/looprunner"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/nodeclient"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/resolver"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "lmscan-agent"
	app.Usage = "indexes and builds aggregate state for the leisuremeta ledger"
	app.Flags = config.Flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.FromCLI(c)
	logx.Init(cfg.LogConfigPath)
	defer logx.Sync()

	log := logx.NewModuleLogger(logx.ModuleDB)

	db, err := dbx.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("agent: open database: %w", err)
	}
	defer db.Close()

	kvStore, err := kv.Open(cfg.KVDir)
	if err != nil {
		return fmt.Errorf("agent: open kv store: %w", err)
	}
	defer kvStore.Close()

	freeStore := store.NewFreeBalanceStore(kvStore)
	lockedStore := store.NewLockedBalanceStore(kvStore)

	client := nodeclient.New(cfg.NodeAddr)
	res := resolver.New(db, client)

	loop := &looprunner.Loop{
		Client:     client,
		Downloader: downloader.New(db, client),
		Builder: builder.New(builder.Context{
			DB:          db,
			Resolver:    res,
			FreeStore:   freeStore,
			LockedStore: lockedStore,
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, finishing in-flight batch")
		cancel()
	}()

	loop.Run(ctx)
	return nil
}
