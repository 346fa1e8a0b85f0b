// Package store implements the free- and locked-balance stores (§4.3, §4.4):
// a persisted spent/consumed-inputs view plus a write-ahead log keyed by
// snapshot stage, backed by the typed kv package. Grounded on the original
// Rust agent's store/free_balance.rs, store/locked_balance.rs and
// store/wal.rs — TypedSled trees over sled become kv.Table trees over
// badger, and the DashMap/DashSet "shadow" becomes a plain in-memory map
// guarded by the caller's own batch discipline (the builder never runs two
// batches concurrently against the same store).
package store

import (
	"encoding/json"
	"fmt"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
)

// State is one account's WAL-logged state at a snapshot stage: its balance
// at that point and the input hashes it contributed, mirroring wal.rs's
// State{balance, input_hashs}.
type State struct {
	Balance     amount.Amount `json:"balance"`
	InputHashes []string      `json:"inputHashes"`
}

// StageLog is one WAL entry: the full set of accounts touched at a stage.
type StageLog map[string]State

// wal wraps a kv.Table keyed by fixed-width big-endian stage number (§9),
// shared in shape by both the free- and locked-balance stores.
type wal struct {
	table *kv.Table
}

func newWAL(table *kv.Table) *wal { return &wal{table: table} }

func (w *wal) insert(stage uint64, log StageLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("store: encode wal entry for stage %d: %w", stage, err)
	}
	return w.table.Insert(kv.StageKey(stage), data)
}

func (w *wal) get(stage uint64) (StageLog, error) {
	data, err := w.table.Get(kv.StageKey(stage))
	if err != nil {
		return nil, err
	}
	var log StageLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("store: decode wal entry for stage %d: %w", stage, err)
	}
	return log, nil
}

func (w *wal) remove(stage uint64) error {
	return w.table.Remove(kv.StageKey(stage))
}
