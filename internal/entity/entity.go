// Package entity defines the gorm row structs backing the persisted tables
// listed in §3's entity table, one struct per table, modelled directly on
// the projections in the Rust original's entity/*.rs files (block_state.rs,
// tx_state.rs, block_entity.rs, tx_entity.rs, nft_tx.rs, nft_file.rs,
// nft_owner.rs, account_entity.rs, account_mapper.rs, balance_entity.rs,
// state_daily.rs, summary.rs) and on klaytn's gorm-backed row structs in
// datasync/chaindatafetcher/kafka.
package entity

import (
	"time"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
)

// BlockState is the raw, as-downloaded block row (§3). The downloader writes
// it with IsBuild=false; the builder flips IsBuild to true once the block's
// transactions have been folded into derived state.
type BlockState struct {
	Hash    string `gorm:"primary_key"`
	Number  int64  `gorm:"index"`
	IsBuild bool   `gorm:"index"`
	Raw     string `gorm:"type:longtext"`
}

func (BlockState) TableName() string { return "block_state" }

// TxState is the raw, as-downloaded transaction row.
type TxState struct {
	Hash      string `gorm:"primary_key"`
	BlockHash string `gorm:"index"`
	Raw       string `gorm:"type:longtext"`
}

func (TxState) TableName() string { return "tx_state" }

// Block is the canonical block row written by the builder.
type Block struct {
	Hash       string `gorm:"primary_key"`
	Number     int64  `gorm:"index"`
	ParentHash string
	TxCount    int
}

func (Block) TableName() string { return "block" }

// Tx is the canonical transaction row written by the builder (§3).
type Tx struct {
	Hash        string `gorm:"primary_key"`
	TxType      string `gorm:"index"`
	SubType     string `gorm:"index"`
	FromAddr    string `gorm:"index"`
	ToAddr      string `gorm:"type:text"` // JSON-encoded []string
	BlockHash   string `gorm:"index"`
	BlockNumber int64  `gorm:"index"`
	EventTime   time.Time
	CreatedAt   time.Time
	InputHashes *string `gorm:"type:text"` // JSON-encoded []string, nil when empty
	OutputVals  *string `gorm:"type:text"` // JSON-encoded map[string]string, nil when empty
	JSON        string  `gorm:"type:longtext"`
}

func (Tx) TableName() string { return "tx" }

// NftTx records one NFT-affecting transaction (mint/transfer/burn/entrust/dispose).
type NftTx struct {
	TxHash  string `gorm:"primary_key"`
	TokenID string `gorm:"index"`
	Action  string
	From    string `gorm:"column:from"`
	To      string `gorm:"column:to"`
}

func (NftTx) TableName() string { return "nft_tx" }

// NftFile holds NFT metadata fields, written once on MintNft.
type NftFile struct {
	TokenID  string `gorm:"primary_key"`
	Name     string
	FileType string
	FileHash string
	Size     int64
}

func (NftFile) TableName() string { return "nft_file" }

// NftOwner is the latest-by-event-time owner of a given NFT.
type NftOwner struct {
	TokenID   string `gorm:"primary_key"`
	Owner     string `gorm:"index"`
	EventTime time.Time
}

func (NftOwner) TableName() string { return "nft_owner" }

// Account is created on CreateAccount.
type Account struct {
	Address   string `gorm:"primary_key"`
	EventTime time.Time
	CreatedAt time.Time
}

func (Account) TableName() string { return "account" }

// AccountMapper records one row per (participating account, tx).
type AccountMapper struct {
	Address   string `gorm:"primary_key;unique_index:idx_account_mapper_addr_hash"`
	Hash      string `gorm:"primary_key;unique_index:idx_account_mapper_addr_hash"`
	EventTime time.Time
}

func (AccountMapper) TableName() string { return "account_mapper" }

// Balance is the builder's output row, overwritten on each build commit.
// Free and Locked are amount.Amount so neither column ever passes through a
// lossy float on its way to/from the relational store.
type Balance struct {
	Address     string `gorm:"primary_key"`
	Free        amount.Amount
	Locked      amount.Amount
	BlockNumber int64
	UpdatedAt   time.Time
}

func (Balance) TableName() string { return "balance" }

// Add merges an incremental (free, locked) delta into the row in place,
// mirroring the original's balance_entity::Model::add helper.
func (b *Balance) Add(free, locked amount.Amount) {
	b.Free = b.Free.Add(free)
	b.Locked = b.Locked.Add(locked)
}

// StateDaily is written by the external reconciliation scheduler (§1, §9);
// the builder never writes it. The scheduler reads the Balance rows the
// builder commits (SPEC_FULL.md §4.7.1).
type StateDaily struct {
	Address     string    `gorm:"primary_key;unique_index:idx_state_daily_addr_date"`
	Date        time.Time `gorm:"primary_key;unique_index:idx_state_daily_addr_date"`
	Free        amount.Amount
	Locked      amount.Amount
	BlockNumber int64
}

func (StateDaily) TableName() string { return "state_daily" }

// Summary is written by the external price/summary job (§1, out of scope);
// kept here because the read API's summary contract is part of the schema.
type Summary struct {
	ID             int64 `gorm:"primary_key"`
	LmPrice        amount.Amount
	BlockNumber    int64
	TotalTxSize    int64
	TotalAccounts  int64
	TotalBalance   amount.Amount
	CreatedAt      time.Time
}

func (Summary) TableName() string { return "summary" }
