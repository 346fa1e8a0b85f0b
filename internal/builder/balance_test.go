package builder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/kv"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

// stubResolver resolves input transaction hashes from an in-memory map,
// standing in for resolver.Resolver so the UTXO deposit/withdrawal engine is
// testable without a database or node client.
type stubResolver map[string]model.TransactionWithResult

func (s stubResolver) TransactionWithResult(_ context.Context, hash string) (model.TransactionWithResult, error) {
	tx, ok := s[hash]
	if !ok {
		return model.TransactionWithResult{}, fmt.Errorf("stub resolver: unknown hash %s", hash)
	}
	return tx, nil
}

func newTestBuilder(t *testing.T, res stubResolver) *Builder {
	t.Helper()
	kvStore, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvStore.Close() })

	return New(Context{
		Resolver:    res,
		FreeStore:   store.NewFreeBalanceStore(kvStore),
		LockedStore: store.NewLockedBalanceStore(kvStore),
	})
}

func at(seconds int64) time.Time { return time.Unix(seconds, 0) }

// TestMintThenTransferMovesFreeBalance exercises §8 scenario 1: a mint
// deposits to alice, then a transfer spending that mint withdraws from alice
// and deposits to bob.
func TestMintThenTransferMovesFreeBalance(t *testing.T) {
	mint := model.TransactionWithResult{
		Hash:    "mint1",
		Signer:  "alice",
		SubType: model.SubMintFungibleToken,
		Payload: model.Payload{CreatedAt: at(1), Outputs: model.Outputs{"alice": amount.FromInt(100)}},
	}
	transfer := model.TransactionWithResult{
		Hash:    "tx1",
		Signer:  "alice",
		SubType: model.SubTransferFungibleToken,
		Payload: model.Payload{
			CreatedAt:   at(2),
			InputHashes: []string{"mint1"},
			Outputs:     model.Outputs{"bob": amount.FromInt(100)},
		},
	}

	b := newTestBuilder(t, stubResolver{"mint1": mint})
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateFreeBalance(ctx, mint, batch)
	assert.True(t, b.balances.entry("alice").Free.Equal(amount.FromInt(100)))

	batch = newBatchAccumulator()
	b.updateFreeBalance(ctx, transfer, batch)
	assert.True(t, b.balances.entry("alice").Free.Equal(amount.Zero), "alice's mint input should be withdrawn")
	assert.True(t, b.balances.entry("bob").Free.Equal(amount.FromInt(100)), "bob should receive the transfer")

	spent, err := b.ctx.FreeStore.SpentHashes("alice")
	require.NoError(t, err)
	assert.True(t, spent.Has("mint1"))
}

// TestEntrustThenDisposeMovesLockedBalance exercises §8 scenario 2: an
// entrust credits the signer's locked balance (and self-credits any
// remainder to free balance via Outputs()), then a dispose consumes the
// entrust input and debits the entrust signer's locked balance.
func TestEntrustThenDisposeMovesLockedBalance(t *testing.T) {
	entrust := model.TransactionWithResult{
		Hash:    "entrust1",
		Signer:  "alice",
		SubType: model.SubEntrustFungibleToken,
		Payload: model.Payload{CreatedAt: at(1), Amount: amount.FromInt(40)},
		Result:  &model.Result{Remainder: amount.FromInt(60)},
	}
	dispose := model.TransactionWithResult{
		Hash:    "dispose1",
		Signer:  "bob",
		SubType: model.SubDisposeEntrustedFungibleToken,
		Payload: model.Payload{CreatedAt: at(2), InputHashes: []string{"entrust1"}, Output: "bob"},
	}

	b := newTestBuilder(t, stubResolver{"entrust1": entrust})
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateFreeBalance(ctx, entrust, batch)
	b.updateLockedBalance(ctx, entrust, batch)
	assert.True(t, b.balances.entry("alice").Free.Equal(amount.FromInt(60)), "entrust self-credits its remainder to free balance")
	assert.True(t, b.balances.entry("alice").Locked.Equal(amount.FromInt(40)), "entrust credits its amount to locked balance")

	consumed, err := b.ctx.LockedStore.Contains("entrust1")
	require.NoError(t, err)
	assert.False(t, consumed)

	batch = newBatchAccumulator()
	b.updateLockedBalance(ctx, dispose, batch)
	assert.True(t, b.balances.entry("alice").Locked.Equal(amount.Zero), "dispose debits the entrust signer's locked balance")

	consumed, err = b.ctx.LockedStore.Contains("entrust1")
	require.NoError(t, err)
	assert.True(t, consumed)

	// A second dispose referencing the same entrust input is a no-op: the
	// input is already consumed, so locked balance must not be debited twice.
	batch = newBatchAccumulator()
	b.updateLockedBalance(ctx, dispose, batch)
	assert.True(t, b.balances.entry("alice").Locked.Equal(amount.Zero))
}

// TestBurnSelfCreditsOutputAmount exercises §8 scenario 3: burn's Outputs()
// synthesizes {signer: result.outputAmount}, so the deposit phase credits it
// and, if the burn also declares inputs, the withdrawal phase debits them in
// the same pass.
func TestBurnSelfCreditsOutputAmount(t *testing.T) {
	mint := model.TransactionWithResult{
		Hash:    "mint1",
		Signer:  "alice",
		SubType: model.SubMintFungibleToken,
		Payload: model.Payload{CreatedAt: at(1), Outputs: model.Outputs{"alice": amount.FromInt(100)}},
	}
	burn := model.TransactionWithResult{
		Hash:    "burn1",
		Signer:  "alice",
		SubType: model.SubBurnFungibleToken,
		Payload: model.Payload{CreatedAt: at(2), InputHashes: []string{"mint1"}},
		Result:  &model.Result{OutputAmount: amount.FromInt(30)},
	}

	b := newTestBuilder(t, stubResolver{"mint1": mint})
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateFreeBalance(ctx, mint, batch)

	batch = newBatchAccumulator()
	b.updateFreeBalance(ctx, burn, batch)
	// credit outputAmount(30), debit the full mint input(100): net -70.
	assert.True(t, b.balances.entry("alice").Free.Equal(amount.FromInt(30)))
}

// TestDoubleSpendSecondWithdrawalIsNoop exercises §8 scenario 5: a second tx
// that reuses an already-spent input must not withdraw again.
func TestDoubleSpendSecondWithdrawalIsNoop(t *testing.T) {
	mint := model.TransactionWithResult{
		Hash:    "mint1",
		Signer:  "alice",
		SubType: model.SubMintFungibleToken,
		Payload: model.Payload{CreatedAt: at(1), Outputs: model.Outputs{"alice": amount.FromInt(100)}},
	}
	spend := model.TransactionWithResult{
		Hash:    "tx1",
		Signer:  "alice",
		SubType: model.SubTransferFungibleToken,
		Payload: model.Payload{CreatedAt: at(2), InputHashes: []string{"mint1"}, Outputs: model.Outputs{"bob": amount.FromInt(100)}},
	}
	doubleSpend := model.TransactionWithResult{
		Hash:    "tx2",
		Signer:  "alice",
		SubType: model.SubTransferFungibleToken,
		Payload: model.Payload{CreatedAt: at(3), InputHashes: []string{"mint1"}, Outputs: model.Outputs{"carol": amount.FromInt(100)}},
	}

	b := newTestBuilder(t, stubResolver{"mint1": mint})
	ctx := context.Background()

	b.updateFreeBalance(ctx, mint, newBatchAccumulator())
	b.updateFreeBalance(ctx, spend, newBatchAccumulator())
	require.True(t, b.balances.entry("alice").Free.Equal(amount.Zero))
	require.True(t, b.balances.entry("bob").Free.Equal(amount.FromInt(100)))

	// mint1 is already spent: the second transfer deposits to carol but its
	// withdrawal phase finds no unspent inputs, so alice is never debited
	// again and carol's deposit is the only uncompensated credit.
	b.updateFreeBalance(ctx, doubleSpend, newBatchAccumulator())
	assert.True(t, b.balances.entry("alice").Free.Equal(amount.Zero), "alice must not be debited twice for the same input")
	assert.True(t, b.balances.entry("carol").Free.Equal(amount.FromInt(100)))
}

// TestNftMintThenTransferUpdatesOwnerByOutput guards against the
// Payload.To/Payload.Output confusion: mint and transfer both carry their
// recipient in Payload.Output, not Payload.To.
func TestNftMintThenTransferUpdatesOwnerByOutput(t *testing.T) {
	mint := model.TransactionWithResult{
		Hash:    "nftmint1",
		Signer:  "alice",
		SubType: model.SubMintNft,
		Payload: model.Payload{CreatedAt: at(1), TokenID: "t1", Output: "alice"},
	}
	transfer := model.TransactionWithResult{
		Hash:    "nfttx1",
		Signer:  "alice",
		SubType: model.SubTransferNft,
		Payload: model.Payload{CreatedAt: at(200), TokenID: "t1", Output: "bob"},
	}

	b := newTestBuilder(t, nil)
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateNftOwner(ctx, mint, batch)
	require.Contains(t, batch.nftOwners, "t1")
	assert.Equal(t, "alice", batch.nftOwners["t1"].Owner)

	b.updateNftOwner(ctx, transfer, batch)
	require.Contains(t, batch.nftOwners, "t1")
	assert.Equal(t, "bob", batch.nftOwners["t1"].Owner, "transfer's recipient is Payload.Output, not Payload.To")
}

// TestNftOwnerLatestWinsByEventTime guards the event-time ordering within a
// batch: an out-of-order earlier event must not overwrite a later one.
func TestNftOwnerLatestWinsByEventTime(t *testing.T) {
	later := model.TransactionWithResult{
		Hash:    "nfttx-later",
		SubType: model.SubTransferNft,
		Payload: model.Payload{CreatedAt: at(200), TokenID: "t1", Output: "bob"},
	}
	earlier := model.TransactionWithResult{
		Hash:    "nfttx-earlier",
		SubType: model.SubTransferNft,
		Payload: model.Payload{CreatedAt: at(100), TokenID: "t1", Output: "carol"},
	}

	b := newTestBuilder(t, nil)
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateNftOwner(ctx, later, batch)
	b.updateNftOwner(ctx, earlier, batch)
	assert.Equal(t, "bob", batch.nftOwners["t1"].Owner, "an earlier event arriving second must not overwrite the later owner")
}

// TestDisposeEntrustedNftRefundsToEntrustSignerWhenNoOutput exercises the
// dispose-entrusted-nft refund rule end to end: when the dispose carries no
// explicit output, ownership reverts to the original entrust's signer.
func TestDisposeEntrustedNftRefundsToEntrustSignerWhenNoOutput(t *testing.T) {
	entrust := model.TransactionWithResult{
		Hash:    "entrustnft1",
		Signer:  "alice",
		SubType: model.SubEntrustNft,
		Payload: model.Payload{CreatedAt: at(1), TokenID: "t1"},
	}
	dispose := model.TransactionWithResult{
		Hash:    "disposenft1",
		Signer:  "bob",
		SubType: model.SubDisposeEntrustedNft,
		Payload: model.Payload{CreatedAt: at(2), TokenID: "t1", InputHashes: []string{"entrustnft1"}},
	}

	b := newTestBuilder(t, stubResolver{"entrustnft1": entrust})
	ctx := context.Background()

	batch := newBatchAccumulator()
	b.updateNftOwner(ctx, dispose, batch)
	assert.Equal(t, "alice", batch.nftOwners["t1"].Owner)
}
