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

func openFreeStore(t *testing.T) *store.FreeBalanceStore {
	t.Helper()
	kvStore, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvStore.Close() })
	return store.NewFreeBalanceStore(kvStore)
}

func TestFreeBalanceMergeWithInputsPersistsSpentInputs(t *testing.T) {
	f := openFreeStore(t)

	prev, err := f.SpentHashes("alice")
	require.NoError(t, err)
	assert.Equal(t, 0, prev.Size())

	accum := store.Accum{}
	require.NoError(t, f.MergeWithInputs(accum, "alice", amount.FromInt(100), prev, []string{"tx1", "tx2"}))

	spent, err := f.SpentHashes("alice")
	require.NoError(t, err)
	assert.True(t, spent.Has("tx1"))
	assert.True(t, spent.Has("tx2"))
	assert.True(t, accum["alice"].Balance.Equal(amount.FromInt(100)))
}

func TestFreeBalanceFlushThenLogOf(t *testing.T) {
	f := openFreeStore(t)

	accum := store.Accum{}
	prev, _ := f.SpentHashes("bob")
	require.NoError(t, f.MergeWithInputs(accum, "bob", amount.FromInt(50), prev, []string{"txA"}))
	require.NoError(t, f.Flush(50, accum))

	logAt50, err := f.LogOf(50)
	require.NoError(t, err)
	require.Contains(t, logAt50, "bob")
	assert.True(t, logAt50["bob"].Balance.Equal(amount.FromInt(50)))
	assert.Equal(t, []string{"txA"}, logAt50["bob"].InputHashes)
}

func TestFreeBalanceFlushIsNoopOnEmptyAccum(t *testing.T) {
	f := openFreeStore(t)
	require.NoError(t, f.Flush(100, store.Accum{}))

	_, err := f.LogOf(100)
	assert.Error(t, err)
}

func TestFreeBalanceRollbackRestoresShadowAndDropsWAL(t *testing.T) {
	f := openFreeStore(t)

	prev, _ := f.SpentHashes("carol")
	accum := store.Accum{}
	require.NoError(t, f.MergeWithInputs(accum, "carol", amount.FromInt(10), prev, []string{"seed"}))
	require.NoError(t, f.Flush(50, accum))

	require.NoError(t, f.TemporarySnapshotOf([]string{"carol"}))

	accum2 := store.Accum{}
	prev2, _ := f.SpentHashes("carol")
	require.NoError(t, f.MergeWithInputs(accum2, "carol", amount.FromInt(20), prev2, []string{"batch2tx"}))
	require.NoError(t, f.Flush(100, accum2))

	require.NoError(t, f.Rollback(100))

	spentAfterRollback, err := f.SpentHashes("carol")
	require.NoError(t, err)
	assert.True(t, spentAfterRollback.Has("seed"))
	assert.False(t, spentAfterRollback.Has("batch2tx"))

	_, err = f.LogOf(100)
	assert.Error(t, err)
}

func TestFreeBalanceOverwriteSpentInputs(t *testing.T) {
	f := openFreeStore(t)

	replacement := set.New()
	replacement.Add("only-this-one")
	require.NoError(t, f.OverwriteSpentInputs("dave", replacement))

	spent, err := f.SpentHashes("dave")
	require.NoError(t, err)
	assert.True(t, spent.Has("only-this-one"))
	assert.Equal(t, 1, spent.Size())
}
