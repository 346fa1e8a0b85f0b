package builder

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/entity"
)

// commit persists one batch atomically (§4.7 step 5): blocks/txs/derived
// rows with on-conflict-do-nothing, balance upserts, event-time-guarded
// nft_owner upserts, the is_build flip, and both balance stores' WAL
// flushes — all inside one DB transaction.
func (b *Builder) commit(blocks []blockRow, batch *batchAccumulator, maxNumber int64, snapshotStage uint64) error {
	err := b.ctx.DB.Transaction(func(tx *gorm.DB) error {
		for _, blk := range blocks {
			txCount := 0
			for _, row := range batch.txs {
				if row.BlockHash == blk.Hash {
					txCount++
				}
			}
			if err := tx.Exec(
				"INSERT IGNORE INTO block (hash, number, parent_hash, tx_count) VALUES (?, ?, ?, ?)",
				blk.Hash, blk.Number, blk.ParentHash, txCount,
			).Error; err != nil {
				return fmt.Errorf("insert block %s: %w", blk.Hash, err)
			}
			if err := tx.Exec(
				"UPDATE block_state SET is_build = true WHERE hash = ?", blk.Hash,
			).Error; err != nil {
				return fmt.Errorf("flip is_build for %s: %w", blk.Hash, err)
			}
		}

		for _, row := range batch.txs {
			if err := tx.Exec(
				`INSERT IGNORE INTO tx (hash, tx_type, sub_type, from_addr, to_addr, block_hash, block_number, event_time, created_at, input_hashes, output_vals, json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				row.Hash, row.TxType, row.SubType, row.FromAddr, row.ToAddr, row.BlockHash, row.BlockNumber,
				row.EventTime, row.CreatedAt, row.InputHashes, row.OutputVals, row.JSON,
			).Error; err != nil {
				return fmt.Errorf("insert tx %s: %w", row.Hash, err)
			}
		}

		for _, row := range batch.nftTxs {
			if err := tx.Exec(
				"INSERT IGNORE INTO nft_tx (tx_hash, token_id, action, `from`, `to`) VALUES (?, ?, ?, ?, ?)",
				row.TxHash, row.TokenID, row.Action, row.From, row.To,
			).Error; err != nil {
				return fmt.Errorf("insert nft_tx %s: %w", row.TxHash, err)
			}
		}

		for _, row := range batch.nftFiles {
			if err := tx.Exec(
				"INSERT IGNORE INTO nft_file (token_id, name, file_type, file_hash, size) VALUES (?, ?, ?, ?, ?)",
				row.TokenID, row.Name, row.FileType, row.FileHash, row.Size,
			).Error; err != nil {
				return fmt.Errorf("insert nft_file %s: %w", row.TokenID, err)
			}
		}

		for _, row := range batch.accounts {
			if err := tx.Exec(
				"INSERT IGNORE INTO account (address, event_time, created_at) VALUES (?, ?, ?)",
				row.Address, row.EventTime, row.CreatedAt,
			).Error; err != nil {
				return fmt.Errorf("insert account %s: %w", row.Address, err)
			}
		}

		for _, row := range batch.accountMappers {
			if err := tx.Exec(
				"INSERT IGNORE INTO account_mapper (address, hash, event_time) VALUES (?, ?, ?)",
				row.Address, row.Hash, row.EventTime,
			).Error; err != nil {
				return fmt.Errorf("insert account_mapper %s/%s: %w", row.Address, row.Hash, err)
			}
		}

		if err := upsertBalances(tx, b.balances, batch.touched, maxNumber); err != nil {
			return err
		}

		for _, row := range batch.nftOwners {
			if err := upsertNftOwner(tx, row); err != nil {
				return err
			}
		}

		if err := b.ctx.FreeStore.Flush(snapshotStage, batch.freeAccum); err != nil {
			return fmt.Errorf("flush free store: %w", err)
		}
		if err := b.ctx.LockedStore.Flush(snapshotStage, batch.lockedAccum); err != nil {
			return fmt.Errorf("flush locked store: %w", err)
		}

		return nil
	})
	return err
}

// upsertBalances writes exactly the accounts batch.touched names to the
// balance table, stamping block_number = maxNumber (I6): every other
// account's row is left untouched, so its prior block_number stands.
func upsertBalances(tx *gorm.DB, balances workingBalances, touched map[string]struct{}, maxNumber int64) error {
	now := time.Now()
	for address := range touched {
		wb := balances.entry(address)
		wb.BlockNumber = maxNumber
		if err := tx.Exec(
			`INSERT INTO balance (address, free, locked, block_number, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE free = VALUES(free), locked = VALUES(locked), block_number = VALUES(block_number), updated_at = VALUES(updated_at)`,
			address, wb.Free, wb.Locked, maxNumber, now,
		).Error; err != nil {
			return fmt.Errorf("upsert balance %s: %w", address, err)
		}
	}
	return nil
}

// upsertNftOwner inserts row, or overwrites an existing row only when row's
// event_time is strictly greater than the stored one; an equal event_time
// keeps the stored owner (§4.7 step 5's "event-time-guarded upsert").
func upsertNftOwner(tx *gorm.DB, row entity.NftOwner) error {
	return tx.Exec(
		`INSERT INTO nft_owner (token_id, owner, event_time) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   owner = IF(VALUES(event_time) > event_time, VALUES(owner), owner),
		   event_time = IF(VALUES(event_time) > event_time, VALUES(event_time), event_time)`,
		row.TokenID, row.Owner, row.EventTime,
	).Error
}
