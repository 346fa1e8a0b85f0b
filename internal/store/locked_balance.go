package store

import (
	"encoding/json"
	"fmt"

	set "gopkg.in/fatih/set.v0"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
)

var lockedLog = logx.NewModuleLogger(logx.ModuleStore)

const consumedInputsKey = "consumed"

// LockedBalanceStore is §4.4: a single global set of consumed entrust input
// hashes plus a WAL keyed by snapshot stage. Unlike the free store, entrust
// outputs are globally unique, so there is one set rather than one per
// signer (mirroring locked_balance.rs: "a set instead of a per-signer map,
// because entrust outputs are globally unique").
type LockedBalanceStore struct {
	consumed *kv.Table // single row at consumedInputsKey: JSON []string
	wal      *wal
	shadow   *set.Set // pre-image of consumed_inputs, captured per batch
}

// NewLockedBalanceStore binds a LockedBalanceStore to two tables carved out
// of the shared kv.Store.
func NewLockedBalanceStore(s *kv.Store) *LockedBalanceStore {
	return &LockedBalanceStore{
		consumed: s.Table("locked/consumed/"),
		wal:      newWAL(s.Table("locked/wal/")),
	}
}

func (l *LockedBalanceStore) readConsumed() (*set.Set, error) {
	data, err := l.consumed.Get(kv.StringKey(consumedInputsKey))
	if err != nil {
		return set.New(), nil
	}
	var hashes []string
	if jsonErr := json.Unmarshal(data, &hashes); jsonErr != nil {
		return nil, fmt.Errorf("store: decode consumed-inputs: %w", jsonErr)
	}
	s := set.New()
	for _, h := range hashes {
		s.Add(h)
	}
	return s, nil
}

func (l *LockedBalanceStore) writeConsumed(s *set.Set) error {
	hashes := make([]string, 0, s.Size())
	for _, v := range s.List() {
		hashes = append(hashes, v.(string))
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("store: encode consumed-inputs: %w", err)
	}
	return l.consumed.Insert(kv.StringKey(consumedInputsKey), data)
}

// ConsumedInputs returns the globally consumed dispose-input hash set (I5).
func (l *LockedBalanceStore) ConsumedInputs() (*set.Set, error) {
	return l.readConsumed()
}

// Contains reports whether h has already been consumed by a
// DisposeEntrustedFungibleToken (I5).
func (l *LockedBalanceStore) Contains(h string) (bool, error) {
	s, err := l.readConsumed()
	if err != nil {
		return false, err
	}
	return s.Has(h), nil
}

// Merge folds a plain locked-balance update into accum, used for
// EntrustFungibleToken's credit (no input-hash bookkeeping: the entrust is
// the source of a locked balance, not a consumer of one).
func (l *LockedBalanceStore) Merge(accum Accum, account string, newLocked amount.Amount) {
	accum.entry(account).Balance = newLocked
}

// Insert marks h consumed immediately (the entry-point dispose uses as it
// walks unconsumed inputs one at a time) and records it against accum's
// contributed-inputs set for entrustSigner so Flush can WAL it.
func (l *LockedBalanceStore) Insert(accum Accum, entrustSigner string, newLocked amount.Amount, h string) error {
	e := accum.entry(entrustSigner)
	e.Balance = newLocked
	e.ContributedInputs.Add(h)

	consumed, err := l.readConsumed()
	if err != nil {
		return err
	}
	consumed.Add(h)
	return l.writeConsumed(consumed)
}

// TemporarySnapshotOf captures the pre-image of consumed_inputs before a
// batch mutates it.
func (l *LockedBalanceStore) TemporarySnapshotOf() error {
	s, err := l.readConsumed()
	if err != nil {
		return err
	}
	l.shadow = s
	return nil
}

// Rollback restores consumed_inputs from the shadow and deletes the WAL
// entry at stage.
func (l *LockedBalanceStore) Rollback(stage uint64) error {
	if l.shadow != nil {
		if err := l.writeConsumed(l.shadow); err != nil {
			return err
		}
	}
	return l.wal.remove(stage)
}

// Flush persists accum as a WAL entry at stage, a no-op when accum is empty.
func (l *LockedBalanceStore) Flush(stage uint64, accum Accum) error {
	if len(accum) == 0 {
		return nil
	}
	log := make(StageLog, len(accum))
	for account, e := range accum {
		hashes := make([]string, 0, e.ContributedInputs.Size())
		for _, v := range e.ContributedInputs.List() {
			hashes = append(hashes, v.(string))
		}
		log[account] = State{Balance: e.Balance, InputHashes: hashes}
	}

	if err := l.wal.insert(stage, log); err != nil {
		lockedLog.Error("wal flush failed, rolling back consumed_inputs", "stage", stage, "err", err)
		if rbErr := l.Rollback(stage); rbErr != nil {
			lockedLog.Error("rollback after failed wal flush also failed", "stage", stage, "err", rbErr)
		}
		return err
	}
	return nil
}

// LogOf reads the WAL entry committed at stage.
func (l *LockedBalanceStore) LogOf(stage uint64) (StageLog, error) {
	return l.wal.get(stage)
}

// OverwriteConsumedInputs replaces the global consumed-inputs set wholesale,
// the final step of a time-travel replay (§4.8 step 4).
func (l *LockedBalanceStore) OverwriteConsumedInputs(s *set.Set) error {
	return l.writeConsumed(s)
}
