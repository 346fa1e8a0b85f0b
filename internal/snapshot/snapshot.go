// Package snapshot implements §4.8 time-travel/rollback: replaying the
// free/locked WAL up to a chosen stage to reconstruct balances and overwrite
// the spent/consumed-input views. Grounded on the original's
// service/state_builder.rs build(db, snapshot_no) — despite the name, that
// file is the rollback/replay path, not the forward builder (internal/builder
// here is the forward path; this package is its inverse).
package snapshot

import (
	"fmt"

	"github.com/jinzhu/gorm"

	set "gopkg.in/fatih/set.v0"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

var log = logx.NewModuleLogger(logx.ModuleSnapshot)

// FoldedAccount is one account's reconstructed state as of a target stage:
// its balance (overlaying later WAL values over earlier ones) and the full
// union of input hashes it has ever contributed.
type FoldedAccount struct {
	Balance amount.Amount
	Inputs  *set.Set
}

// Folded is the replayed {account -> state} map §4.8 step 2 describes.
type Folded map[string]FoldedAccount

// Traveler rebuilds balance/spent-input state at an arbitrary prior
// snapshot stage for an operator-triggered rollback. A failed build batch
// is not undone here: the builder calls the stores' own Rollback instead.
type Traveler struct {
	DB          *gorm.DB
	FreeStore   *store.FreeBalanceStore
	LockedStore *store.LockedBalanceStore
}

// To replays every WAL entry at stage ≤ target, folds free and locked state
// independently, then in one DB transaction resets block_state.is_build for
// blocks beyond target, deletes and reinserts the balance table, and
// finally overwrites both stores' current spent/consumed-input views. WAL
// entries at stage > target are deleted only after the DB commit succeeds
// (§4.8 step 5).
func (t *Traveler) To(target uint64) error {
	free, err := fold(func(stage uint64) (store.StageLog, error) { return t.FreeStore.LogOf(stage) }, target)
	if err != nil {
		return fmt.Errorf("snapshot: fold free wal up to %d: %w", target, err)
	}
	locked, err := fold(func(stage uint64) (store.StageLog, error) { return t.LockedStore.LogOf(stage) }, target)
	if err != nil {
		return fmt.Errorf("snapshot: fold locked wal up to %d: %w", target, err)
	}

	err = t.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE block_state SET is_build = false WHERE number > ?", target).Error; err != nil {
			return fmt.Errorf("reset is_build beyond stage %d: %w", target, err)
		}
		if err := tx.Exec("DELETE FROM balance").Error; err != nil {
			return fmt.Errorf("clear balance table: %w", err)
		}

		accounts := unionKeys(free, locked)
		for _, address := range accounts {
			freeBalance := amount.Zero
			if fa, ok := free[address]; ok {
				freeBalance = fa.Balance
			}
			lockedBalance := amount.Zero
			if la, ok := locked[address]; ok {
				lockedBalance = la.Balance
			}
			if err := tx.Exec(
				"INSERT INTO balance (address, free, locked, block_number, updated_at) VALUES (?, ?, ?, ?, NOW())",
				address, freeBalance, lockedBalance, target,
			).Error; err != nil {
				return fmt.Errorf("insert folded balance for %s: %w", address, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := overwriteSpentInputs(t.FreeStore, free); err != nil {
		return fmt.Errorf("snapshot: overwrite free spent-inputs: %w", err)
	}
	if err := overwriteConsumedInputs(t.LockedStore, locked); err != nil {
		return fmt.Errorf("snapshot: overwrite locked consumed-inputs: %w", err)
	}

	for stage := target + 50; ; stage += 50 {
		if _, err := t.FreeStore.LogOf(stage); err != nil {
			break // no more entries beyond target
		}
		if err := t.FreeStore.Rollback(stage); err != nil {
			log.Error("failed to trim free wal beyond target", "stage", stage, "err", err)
		}
		if err := t.LockedStore.Rollback(stage); err != nil {
			log.Error("failed to trim locked wal beyond target", "stage", stage, "err", err)
		}
	}
	return nil
}

// fold replays stage logs 50, 100, ... up to and including target, folding
// them into a single account -> state map. Later stages overlay earlier
// ones for balance; input sets union (§4.8 step 2).
func fold(logOf func(uint64) (store.StageLog, error), target uint64) (Folded, error) {
	out := make(Folded)
	for stage := uint64(50); stage <= target; stage += 50 {
		entry, err := logOf(stage)
		if err != nil {
			continue // no WAL entry at this stage: nothing landed there
		}
		for account, s := range entry {
			fa, ok := out[account]
			if !ok {
				fa = FoldedAccount{Balance: amount.Zero, Inputs: set.New()}
			}
			fa.Balance = s.Balance
			for _, h := range s.InputHashes {
				fa.Inputs.Add(h)
			}
			out[account] = fa
		}
	}
	return out, nil
}

func unionKeys(a, b Folded) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func overwriteSpentInputs(s *store.FreeBalanceStore, folded Folded) error {
	for account, fa := range folded {
		if err := s.OverwriteSpentInputs(account, fa.Inputs); err != nil {
			return err
		}
	}
	return nil
}

func overwriteConsumedInputs(s *store.LockedBalanceStore, folded Folded) error {
	union := set.New()
	for _, fa := range folded {
		for _, v := range fa.Inputs.List() {
			union.Add(v)
		}
	}
	return s.OverwriteConsumedInputs(union)
}
