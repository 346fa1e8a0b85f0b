package store_test

import (
	"testing"

	set "gopkg.in/fatih/set.v0"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

func openLockedStore(t *testing.T) *store.LockedBalanceStore {
	t.Helper()
	kvStore, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvStore.Close() })
	return store.NewLockedBalanceStore(kvStore)
}

func TestLockedBalanceInsertMarksConsumedAndRecordsAccum(t *testing.T) {
	l := openLockedStore(t)

	accum := store.Accum{}
	require.NoError(t, l.Insert(accum, "alice", amount.FromInt(40), "entrust-tx-1"))

	consumed, err := l.Contains("entrust-tx-1")
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.True(t, accum["alice"].Balance.Equal(amount.FromInt(40)))
}

func TestLockedBalanceMergeDoesNotTouchConsumed(t *testing.T) {
	l := openLockedStore(t)

	accum := store.Accum{}
	l.Merge(accum, "bob", amount.FromInt(15))
	assert.True(t, accum["bob"].Balance.Equal(amount.FromInt(15)))

	consumed, err := l.ConsumedInputs()
	require.NoError(t, err)
	assert.Equal(t, 0, consumed.Size())
}

func TestLockedBalanceFlushThenLogOf(t *testing.T) {
	l := openLockedStore(t)

	accum := store.Accum{}
	l.Merge(accum, "carol", amount.FromInt(99))
	require.NoError(t, l.Flush(50, accum))

	logAt50, err := l.LogOf(50)
	require.NoError(t, err)
	require.Contains(t, logAt50, "carol")
	assert.True(t, logAt50["carol"].Balance.Equal(amount.FromInt(99)))
}

func TestLockedBalanceRollbackRestoresConsumedShadow(t *testing.T) {
	l := openLockedStore(t)

	accum0 := store.Accum{}
	require.NoError(t, l.Insert(accum0, "dave", amount.FromInt(5), "pre-existing"))
	require.NoError(t, l.Flush(50, accum0))

	require.NoError(t, l.TemporarySnapshotOf())

	accum1 := store.Accum{}
	require.NoError(t, l.Insert(accum1, "dave", amount.FromInt(0), "batch-tx"))
	require.NoError(t, l.Flush(100, accum1))

	require.NoError(t, l.Rollback(100))

	stillConsumed, err := l.Contains("pre-existing")
	require.NoError(t, err)
	assert.True(t, stillConsumed)

	rolledBack, err := l.Contains("batch-tx")
	require.NoError(t, err)
	assert.False(t, rolledBack)

	_, err = l.LogOf(100)
	assert.Error(t, err)
}

func TestLockedBalanceOverwriteConsumedInputs(t *testing.T) {
	l := openLockedStore(t)

	replacement := set.New()
	replacement.Add("h1")
	replacement.Add("h2")
	require.NoError(t, l.OverwriteConsumedInputs(replacement))

	consumed, err := l.ConsumedInputs()
	require.NoError(t, err)
	assert.Equal(t, 2, consumed.Size())
}
