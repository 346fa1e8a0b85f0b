package store

import (
	"encoding/json"
	"fmt"

	set "gopkg.in/fatih/set.v0"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
)

var freeLog = logx.NewModuleLogger(logx.ModuleStore)

// AccumEntry is one account's in-progress fold within a build batch: the
// balance computed so far and the input hashes it has contributed, the unit
// Merge/MergeWithInputs operate on and Flush eventually persists as a
// StageLog entry.
type AccumEntry struct {
	Balance           amount.Amount
	ContributedInputs *set.Set
}

// Accum is the builder's in-memory fold accumulator for one batch,
// state_accum in §4.3/§4.7.
type Accum map[string]*AccumEntry

func (a Accum) entry(account string) *AccumEntry {
	e, ok := a[account]
	if !ok {
		e = &AccumEntry{Balance: amount.Zero, ContributedInputs: set.New()}
		a[account] = e
	}
	return e
}

// FreeBalanceStore is §4.3: a per-signer spent-input-hash set plus a WAL
// keyed by snapshot stage.
type FreeBalanceStore struct {
	spent  *kv.Table // signer -> JSON []string of spent input hashes
	wal    *wal
	shadow map[string]*set.Set // pre-image of spent, captured per batch
}

// NewFreeBalanceStore binds a FreeBalanceStore to two tables carved out of
// the shared kv.Store, mirroring the two independent sled trees
// (TOTAL_INPUT, WAL_INPUT) the original free_balance.rs keeps.
func NewFreeBalanceStore(s *kv.Store) *FreeBalanceStore {
	return &FreeBalanceStore{
		spent:  s.Table("free/spent/"),
		wal:    newWAL(s.Table("free/wal/")),
		shadow: make(map[string]*set.Set),
	}
}

func (f *FreeBalanceStore) readSpent(signer string) (*set.Set, error) {
	data, err := f.spent.Get(kv.StringKey(signer))
	if err != nil {
		return set.New(), nil // absent signer: empty set, not an error
	}
	var hashes []string
	if jsonErr := json.Unmarshal(data, &hashes); jsonErr != nil {
		return nil, fmt.Errorf("store: decode spent-inputs for %s: %w", signer, jsonErr)
	}
	s := set.New()
	for _, h := range hashes {
		s.Add(h)
	}
	return s, nil
}

func (f *FreeBalanceStore) writeSpent(signer string, s *set.Set) error {
	hashes := make([]string, 0, s.Size())
	for _, v := range s.List() {
		hashes = append(hashes, v.(string))
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("store: encode spent-inputs for %s: %w", signer, err)
	}
	return f.spent.Insert(kv.StringKey(signer), data)
}

// SpentHashes returns signer's currently committed spent-input-hash set.
func (f *FreeBalanceStore) SpentHashes(signer string) (*set.Set, error) {
	return f.readSpent(signer)
}

// Merge folds a plain balance update into accum without touching the
// account's contributed-inputs set (used by the builder's deposit phase for
// every credited account).
func (f *FreeBalanceStore) Merge(accum Accum, account string, newBalance amount.Amount) {
	accum.entry(account).Balance = newBalance
}

// MergeWithInputs folds a balance update that also consumes input hashes:
// it extends accum's contributed-inputs set by newInputs and immediately
// writes back prevSpent ∪ newInputs into the persisted spent_inputs table
// (§4.3), so a later withdrawal in the same batch sees the updated set.
func (f *FreeBalanceStore) MergeWithInputs(accum Accum, signer string, newBalance amount.Amount, prevSpent *set.Set, newInputs []string) error {
	e := accum.entry(signer)
	e.Balance = newBalance
	for _, h := range newInputs {
		e.ContributedInputs.Add(h)
	}

	union := set.New()
	for _, v := range prevSpent.List() {
		union.Add(v)
	}
	for _, h := range newInputs {
		union.Add(h)
	}
	return f.writeSpent(signer, union)
}

// TemporarySnapshotOf clears the shadow and copies each signer's current
// spent_inputs into it before a batch mutates them, the pre-image rollback
// needs if the batch's commit fails.
func (f *FreeBalanceStore) TemporarySnapshotOf(signers []string) error {
	f.shadow = make(map[string]*set.Set, len(signers))
	for _, signer := range signers {
		s, err := f.readSpent(signer)
		if err != nil {
			return err
		}
		f.shadow[signer] = s
	}
	return nil
}

// Rollback overwrites spent_inputs with the shadow pre-image for every
// signer captured by TemporarySnapshotOf, and deletes the WAL entry at
// stage, undoing a failed batch's effects.
func (f *FreeBalanceStore) Rollback(stage uint64) error {
	for signer, s := range f.shadow {
		if err := f.writeSpent(signer, s); err != nil {
			return err
		}
	}
	return f.wal.remove(stage)
}

// Flush commits accum as of stage: a no-op if accum is empty, otherwise it
// persists the WAL entry for stage. spent_inputs is already durable (each
// MergeWithInputs call writes through), so only the WAL append can still
// fail here; on failure it rolls spent_inputs back to the shadow and
// reports the error so the caller aborts the whole commit.
func (f *FreeBalanceStore) Flush(stage uint64, accum Accum) error {
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

	if err := f.wal.insert(stage, log); err != nil {
		freeLog.Error("wal flush failed, rolling back spent_inputs", "stage", stage, "err", err)
		if rbErr := f.Rollback(stage); rbErr != nil {
			freeLog.Error("rollback after failed wal flush also failed", "stage", stage, "err", rbErr)
		}
		return err
	}
	return nil
}

// LogOf reads the WAL entry committed at stage.
func (f *FreeBalanceStore) LogOf(stage uint64) (StageLog, error) {
	return f.wal.get(stage)
}

// OverwriteSpentInputs replaces signer's committed spent-inputs set
// wholesale, the final step of a time-travel replay (§4.8 step 4).
func (f *FreeBalanceStore) OverwriteSpentInputs(signer string, s *set.Set) error {
	return f.writeSpent(signer, s)
}
