package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
)

func TestClassificationTable(t *testing.T) {
	cases := []struct {
		sub              model.SubType
		free, locked, nft bool
	}{
		{model.SubOfferReward, true, false, false},
		{model.SubExecuteReward, true, false, false},
		{model.SubExecuteOwnershipReward, true, false, false},
		{model.SubTransferFungibleToken, true, false, false},
		{model.SubMintFungibleToken, true, false, false},
		{model.SubDisposeEntrustedFungibleToken, true, true, false},
		{model.SubEntrustFungibleToken, true, true, false},
		{model.SubBurnFungibleToken, true, false, false},
		{model.SubMintNft, false, false, true},
		{model.SubTransferNft, false, false, true},
		{model.SubDisposeEntrustedNft, false, false, true},
		{model.SubCreateAccount, false, false, false},
	}

	for _, tc := range cases {
		tx := model.TransactionWithResult{SubType: tc.sub}
		assert.Equal(t, tc.free, tx.IsFreeFungible(), "free: %s", tc.sub)
		assert.Equal(t, tc.locked, tx.IsLockedFungible(), "locked: %s", tc.sub)
		assert.Equal(t, tc.nft, tx.IsNftOwnerTransfer(), "nft: %s", tc.sub)
	}
}

func TestOutputsFromPayload(t *testing.T) {
	tx := model.TransactionWithResult{
		SubType: model.SubTransferFungibleToken,
		Payload: model.Payload{Outputs: model.Outputs{"bob": amount.FromInt(10), "alice": amount.FromInt(90)}},
	}
	outputs, err := tx.Outputs()
	require.NoError(t, err)
	assert.True(t, outputs["bob"].Equal(amount.FromInt(10)))
	assert.True(t, outputs["alice"].Equal(amount.FromInt(90)))
}

func TestOutputsEntrustSynthesizesSignerRemainder(t *testing.T) {
	tx := model.TransactionWithResult{
		Signer:  "alice",
		SubType: model.SubEntrustFungibleToken,
		Result:  &model.Result{Remainder: amount.FromInt(0)},
	}
	outputs, err := tx.Outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs["alice"].Equal(amount.FromInt(0)))
}

func TestOutputsBurnSynthesizesSignerOutputAmount(t *testing.T) {
	tx := model.TransactionWithResult{
		Signer:  "alice",
		SubType: model.SubBurnFungibleToken,
		Result:  &model.Result{OutputAmount: amount.FromInt(5)},
	}
	outputs, err := tx.Outputs()
	require.NoError(t, err)
	assert.True(t, outputs["alice"].Equal(amount.FromInt(5)))
}

func TestExecuteRewardFailsWithoutResult(t *testing.T) {
	tx := model.TransactionWithResult{SubType: model.SubExecuteReward}
	_, err := tx.Outputs()
	assert.Error(t, err)
}

func TestDisposeEntrustedNftRefundsToInputSignerWhenNoOutput(t *testing.T) {
	tx := model.TransactionWithResult{SubType: model.SubDisposeEntrustedNft}
	assert.Equal(t, "alice", tx.NftOwnerTarget("alice"))

	tx.Payload.Output = "bob"
	assert.Equal(t, "bob", tx.NftOwnerTarget("alice"))
}

func TestCreatedAtIsMonotoneOrderable(t *testing.T) {
	earlier := model.TransactionWithResult{Payload: model.Payload{CreatedAt: time.Unix(100, 0)}}
	later := model.TransactionWithResult{Payload: model.Payload{CreatedAt: time.Unix(200, 0)}}
	assert.True(t, earlier.CreatedAt().Before(later.CreatedAt()))
}
