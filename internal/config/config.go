// Package config declares the indexer's CLI/env bootstrap surface, in the
// style of klaytn's cmd/utils flags: one cli.*Flag per configurable, each
// bound to an environment variable via EnvVar so that container deployments
// never need a flags file.
package config

import (
	"time"

	"github.com/urfave/cli"
)

const (
	// DownloadBatchUnit is the number of blocks the downloader commits to
	// block_state/tx_state in a single DB transaction.
	DownloadBatchUnit = 50
	// BuildBatchUnit is the number of not-yet-built blocks the state
	// builder folds into balances and derived tables per pass.
	BuildBatchUnit = 50
	// SnapshotStageGranularity is the block-number multiple at which WAL
	// entries are addressed for rollback.
	SnapshotStageGranularity = 50
	// HTTPRetryDelay is the fixed backoff between retries of idempotent
	// GETs against the node API.
	HTTPRetryDelay = 500 * time.Millisecond
	// LoopInterval is the sleep between downloader/builder cycles.
	LoopInterval = 5 * time.Second
)

var (
	DatabaseURLFlag = cli.StringFlag{
		Name:   "database-url",
		Usage:  "DSN of the relational store holding block/tx/balance/nft tables",
		EnvVar: "DATABASE_URL",
	}
	NodeAddrFlag = cli.StringFlag{
		Name:   "node-addr",
		Usage:  "base URL of the upstream node HTTP API",
		EnvVar: "LM_ADDR",
		Value:  "http://localhost:8081",
	}
	BalAddrFlag = cli.StringFlag{
		Name:   "balance-addr",
		Usage:  "base URL used by the reconciliation job to re-derive balances from the node",
		EnvVar: "BAL_ADDR",
	}
	CoinMarketAPIKeyFlag = cli.StringFlag{
		Name:   "coin-market-api-key",
		Usage:  "API key for the external price oracle consumed by the summary job",
		EnvVar: "COIN_MARKET_API_KEY",
	}
	ScanAPIKeyFlag = cli.StringFlag{
		Name:   "scan-api-key",
		Usage:  "API key accepted from the read API / external scanner integrations",
		EnvVar: "SCAN_API_KEY",
	}
	LogConfigFlag = cli.StringFlag{
		Name:   "log-config",
		Usage:  "path to a TOML logging configuration file (level, encoding)",
		EnvVar: "LOG_CONFIG_FILE_PATH",
	}
	KVDirFlag = cli.StringFlag{
		Name:   "kv-dir",
		Usage:  "base directory for the embedded free/locked balance KV trees",
		EnvVar: "KV_DIR",
		Value:  "badger",
	}
)

// Flags is the full flag set registered on the root CLI app.
var Flags = []cli.Flag{
	DatabaseURLFlag,
	NodeAddrFlag,
	BalAddrFlag,
	CoinMarketAPIKeyFlag,
	ScanAPIKeyFlag,
	LogConfigFlag,
	KVDirFlag,
}

// Config is the resolved bootstrap configuration; FromCLI copies the flag
// values as given and does not validate them. No module-level mutable
// globals hold it; main constructs one and passes its fields down
// explicitly (see SPEC_FULL.md §9 on process-wide singletons).
type Config struct {
	DatabaseURL      string
	NodeAddr         string
	BalAddr          string
	CoinMarketAPIKey string
	ScanAPIKey       string
	LogConfigPath    string
	KVDir            string
}

// FromCLI reads the resolved flag values off a urfave/cli context.
func FromCLI(c *cli.Context) Config {
	return Config{
		DatabaseURL:      c.GlobalString(DatabaseURLFlag.Name),
		NodeAddr:         c.GlobalString(NodeAddrFlag.Name),
		BalAddr:          c.GlobalString(BalAddrFlag.Name),
		CoinMarketAPIKey: c.GlobalString(CoinMarketAPIKeyFlag.Name),
		ScanAPIKey:       c.GlobalString(ScanAPIKeyFlag.Name),
		LogConfigPath:    c.GlobalString(LogConfigFlag.Name),
		KVDir:            c.GlobalString(KVDirFlag.Name),
	}
}
