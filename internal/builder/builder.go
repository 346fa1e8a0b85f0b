// Package builder is the state builder (§4.7, C7 — "the heart"): it pages
// unbuilt blocks, folds their transactions in event-time order into
// in-memory free/locked balances and NFT owners, and commits derived
// tables, WAL entries and the is_build marker atomically. Grounded on the
// original's main.rs build_saved_state_proc, with the process-wide
// singletons (db handle, resolver, free/locked stores) replaced by an
// explicitly-constructed BuilderContext per §9's design note.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jinzhu/gorm"
	metrics "github.com/rcrowley/go-metrics"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/entity"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

var log = logx.NewModuleLogger(logx.ModuleBuilder)

var batchSizeGauge = metrics.GetOrRegisterGauge("agent/builder/batchSize", nil)

// Resolver resolves an input transaction hash to its full record, the one
// collaborator applyTransaction's balance/NFT-owner updates need. Satisfied
// by *resolver.Resolver; tests substitute a stub so the UTXO deposit/
// withdrawal engine is exercisable without a database.
type Resolver interface {
	TransactionWithResult(ctx context.Context, hash string) (model.TransactionWithResult, error)
}

// Context bundles every collaborator the builder needs, replacing the
// original's process-wide globals (the db handle, the node client baked
// into Finder, and the two balance stores) with one value main constructs
// once and passes down explicitly.
type Context struct {
	DB          *gorm.DB
	Resolver    Resolver
	FreeStore   *store.FreeBalanceStore
	LockedStore *store.LockedBalanceStore
}

// WorkingBalance is the builder's in-memory view of one account's balance,
// working_balances in §4.7. The map holding it lives on the Builder across
// batches (RunOnce clones it before each batch to restore on a failed
// commit) and is never shared with any other goroutine.
type WorkingBalance struct {
	Free        amount.Amount
	Locked      amount.Amount
	BlockNumber int64
}

type workingBalances map[string]*WorkingBalance

func (w workingBalances) entry(account string) *WorkingBalance {
	e, ok := w[account]
	if !ok {
		e = &WorkingBalance{Free: amount.Zero, Locked: amount.Zero}
		w[account] = e
	}
	return e
}

// Builder owns the long-lived in-memory balance map across batches, loaded
// lazily from the balance table on first use, per §4.7 step 1 ("copy
// current in-memory balance map").
type Builder struct {
	ctx      Context
	balances workingBalances
	loaded   bool
}

func New(ctx Context) *Builder {
	return &Builder{ctx: ctx, balances: make(workingBalances)}
}

func (b *Builder) ensureLoaded() error {
	if b.loaded {
		return nil
	}
	var rows []entity.Balance
	if err := b.ctx.DB.Find(&rows).Error; err != nil {
		return fmt.Errorf("builder: load balances: %w", err)
	}
	for _, r := range rows {
		b.balances[r.Address] = &WorkingBalance{Free: r.Free, Locked: r.Locked, BlockNumber: r.BlockNumber}
	}
	b.loaded = true
	return nil
}

// RunOnce folds at most one batch (config.BuildBatchUnit blocks) of unbuilt
// state. It returns built=false when there is nothing left to build, the
// loop driver's cue to stop calling it until the next downloader pass.
func (b *Builder) RunOnce(ctx context.Context) (built bool, err error) {
	if err := b.ensureLoaded(); err != nil {
		return false, err
	}

	blocks, err := b.loadUnbuiltBatch()
	if err != nil {
		return false, err
	}
	if len(blocks) == 0 {
		return false, nil
	}
	batchSizeGauge.Update(int64(len(blocks)))

	txsByBlock, err := b.loadBatchTransactions(blocks)
	if err != nil {
		return false, err
	}

	signers := collectSigners(txsByBlock)
	if err := b.ctx.FreeStore.TemporarySnapshotOf(signers); err != nil {
		return false, fmt.Errorf("builder: snapshot free store: %w", err)
	}
	if err := b.ctx.LockedStore.TemporarySnapshotOf(); err != nil {
		return false, fmt.Errorf("builder: snapshot locked store: %w", err)
	}

	preBatch := b.balances.clone()

	batch := newBatchAccumulator()
	var maxNumber int64
	var snapshotStage uint64

	for _, blk := range blocks {
		if blk.Number > maxNumber {
			maxNumber = blk.Number
		}
		snapshotStage = uint64(((blk.Number + 49) / 50) * 50)

		for _, tx := range txsByBlock[blk.Hash] {
			b.applyTransaction(ctx, blk, tx, batch)
		}
	}

	if err := b.commit(blocks, batch, maxNumber, snapshotStage); err != nil {
		log.Error("batch commit failed, rolling back", "stage", snapshotStage, "err", err)
		b.balances = preBatch
		if rbErr := b.ctx.FreeStore.Rollback(snapshotStage); rbErr != nil {
			log.Error("free store rollback failed", "err", rbErr)
		}
		if rbErr := b.ctx.LockedStore.Rollback(snapshotStage); rbErr != nil {
			log.Error("locked store rollback failed", "err", rbErr)
		}
		return false, err
	}

	return true, nil
}

func (w workingBalances) clone() workingBalances {
	out := make(workingBalances, len(w))
	for k, v := range w {
		cp := *v
		out[k] = &cp
	}
	return out
}

func collectSigners(byBlock map[string][]model.TransactionWithResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, txs := range byBlock {
		for _, tx := range txs {
			if _, ok := seen[tx.Signer]; !ok {
				seen[tx.Signer] = struct{}{}
				out = append(out, tx.Signer)
			}
		}
	}
	return out
}

// blockRow is the subset of block_state fields the builder needs, loaded
// from raw JSON once per batch.
type blockRow struct {
	Hash       string
	Number     int64
	ParentHash string
}

func (b *Builder) loadUnbuiltBatch() ([]blockRow, error) {
	var states []entity.BlockState
	err := b.ctx.DB.
		Where("is_build = ?", false).
		Order("number asc").
		Limit(buildBatchUnit).
		Find(&states).Error
	if err != nil {
		return nil, fmt.Errorf("builder: query unbuilt block_state: %w", err)
	}

	rows := make([]blockRow, 0, len(states))
	for _, s := range states {
		var envelope struct {
			Header struct {
				ParentHash string `json:"parentHash"`
			} `json:"header"`
		}
		if err := json.Unmarshal([]byte(s.Raw), &envelope); err != nil {
			log.Error("malformed block_state, skipping block", "hash", s.Hash, "err", err)
			continue
		}
		rows = append(rows, blockRow{Hash: s.Hash, Number: s.Number, ParentHash: envelope.Header.ParentHash})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
	return rows, nil
}

const buildBatchUnit = 50

func (b *Builder) loadBatchTransactions(blocks []blockRow) (map[string][]model.TransactionWithResult, error) {
	hashes := make([]string, len(blocks))
	for i, blk := range blocks {
		hashes[i] = blk.Hash
	}

	var states []entity.TxState
	if err := b.ctx.DB.Where("block_hash in (?)", hashes).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("builder: query tx_state for batch: %w", err)
	}

	byBlock := make(map[string][]model.TransactionWithResult)
	for _, s := range states {
		tx, err := decodeTxState(s)
		if err != nil {
			log.Error("malformed tx_state, skipping transaction", "hash", s.Hash, "err", err)
			continue
		}
		byBlock[s.BlockHash] = append(byBlock[s.BlockHash], tx)
	}

	for blockHash, txs := range byBlock {
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].CreatedAt().Before(txs[j].CreatedAt())
		})
		byBlock[blockHash] = txs
	}
	return byBlock, nil
}
