package model

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/amount"
)

// Kind is the top-level transaction variant (§3). Every TransactionWithResult
// carries exactly one Kind plus one SubType drawn from that Kind's table.
type Kind string

const (
	KindReward  Kind = "REWARD"
	KindToken   Kind = "TOKEN"
	KindAccount Kind = "ACCOUNT"
	KindGroup   Kind = "GROUP"
	KindAgenda  Kind = "AGENDA"
)

// SubType enumerates every sub-variant across all five Kinds. Rather than a
// Rust-style trait implemented once per sub-variant, dispatch collapses to a
// single lookup table (subTypeTable, below) keyed by SubType, per §9's note
// that the per-variant trait methods "collapse to a single tagged-union
// match with a table-driven projection."
type SubType string

const (
	SubOfferReward              SubType = "OFFER_REWARD"
	SubExecuteReward            SubType = "EXECUTE_REWARD"
	SubExecuteOwnershipReward   SubType = "EXECUTE_OWNERSHIP_REWARD"
	SubMintFungibleToken        SubType = "MINT_FUNGIBLE_TOKEN"
	SubTransferFungibleToken    SubType = "TRANSFER_FUNGIBLE_TOKEN"
	SubBurnFungibleToken        SubType = "BURN_FUNGIBLE_TOKEN"
	SubEntrustFungibleToken     SubType = "ENTRUST_FUNGIBLE_TOKEN"
	SubDisposeEntrustedFungibleToken SubType = "DISPOSE_ENTRUSTED_FUNGIBLE_TOKEN"
	SubDefineToken              SubType = "DEFINE_TOKEN"
	SubMintNft                  SubType = "MINT_NFT"
	SubTransferNft              SubType = "TRANSFER_NFT"
	SubBurnNft                  SubType = "BURN_NFT"
	SubEntrustNft               SubType = "ENTRUST_NFT"
	SubDisposeEntrustedNft      SubType = "DISPOSE_ENTRUSTED_NFT"
	SubCreateAccount            SubType = "CREATE_ACCOUNT"
	SubUpdateAccount            SubType = "UPDATE_ACCOUNT"
	SubCreateGroup              SubType = "CREATE_GROUP"
	SubUpdateGroup              SubType = "UPDATE_GROUP"
	SubRecordActivity           SubType = "RECORD_ACTIVITY"
	SubAgenda                   SubType = "AGENDA"
)

type subTypeMeta struct {
	kind            Kind
	isFreeFungible  bool
	isLockedFungible bool
	isNftTransfer   bool
	// outputsFrom selects where the outputs table (§4.5) pulls its map from.
	outputsFrom outputsSource
}

type outputsSource int

const (
	outputsFromPayload outputsSource = iota
	outputsFromResult
	outputsSignerRemainder    // {signer: result.remainder}, EntrustFungibleToken
	outputsSignerOutputAmount // {signer: result.output_amount}, BurnFungibleToken
	outputsNone
)

var subTypeTable = map[SubType]subTypeMeta{
	SubOfferReward:              {kind: KindReward, isFreeFungible: true, outputsFrom: outputsFromPayload},
	SubExecuteReward:            {kind: KindReward, isFreeFungible: true, outputsFrom: outputsFromResult},
	SubExecuteOwnershipReward:   {kind: KindReward, isFreeFungible: true, outputsFrom: outputsFromResult},
	SubMintFungibleToken:        {kind: KindToken, isFreeFungible: true, outputsFrom: outputsFromPayload},
	SubTransferFungibleToken:    {kind: KindToken, isFreeFungible: true, outputsFrom: outputsFromPayload},
	SubDisposeEntrustedFungibleToken: {kind: KindToken, isFreeFungible: true, isLockedFungible: true, outputsFrom: outputsFromPayload},
	SubEntrustFungibleToken:     {kind: KindToken, isFreeFungible: true, isLockedFungible: true, outputsFrom: outputsSignerRemainder},
	SubBurnFungibleToken:        {kind: KindToken, isFreeFungible: true, outputsFrom: outputsSignerOutputAmount},
	SubDefineToken:              {kind: KindToken, outputsFrom: outputsNone},
	SubMintNft:                  {kind: KindToken, isNftTransfer: true, outputsFrom: outputsNone},
	SubTransferNft:              {kind: KindToken, isNftTransfer: true, outputsFrom: outputsNone},
	SubBurnNft:                  {kind: KindToken, outputsFrom: outputsNone},
	SubEntrustNft:               {kind: KindToken, outputsFrom: outputsNone},
	SubDisposeEntrustedNft:      {kind: KindToken, isNftTransfer: true, outputsFrom: outputsNone},
	SubCreateAccount:            {kind: KindAccount, outputsFrom: outputsNone},
	SubUpdateAccount:            {kind: KindAccount, outputsFrom: outputsNone},
	SubCreateGroup:              {kind: KindGroup, outputsFrom: outputsNone},
	SubUpdateGroup:              {kind: KindGroup, outputsFrom: outputsNone},
	SubRecordActivity:           {kind: KindAccount, outputsFrom: outputsNone},
	SubAgenda:                   {kind: KindAgenda, outputsFrom: outputsNone},
}

// Outputs is an account -> deposited-amount map, the unit both the deposit
// and withdrawal sides of the builder operate on (§4.5).
type Outputs map[string]amount.Amount

// Payload carries the variant-specific fields every sub-type needs; unused
// fields for a given sub-type are simply left zero. A richer implementation
// would split this into one struct per sub-type, but the builder only ever
// reads through the table-driven accessors below, so one flat struct keeps
// the projection logic in one place instead of scattered across 20 types.
type Payload struct {
	NetworkID int32     `json:"networkId"`
	CreatedAt time.Time `json:"createdAt"`

	InputHashes []string `json:"inputHashes,omitempty"`
	Outputs     Outputs  `json:"outputs,omitempty"`

	TokenID string        `json:"tokenId,omitempty"`
	Output  string        `json:"output,omitempty"`
	Amount  amount.Amount `json:"amount,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// NFT metadata, populated on MintNft only.
	NftName     string `json:"nftName,omitempty"`
	NftFileType string `json:"nftFileType,omitempty"`
	NftFileHash string `json:"nftFileHash,omitempty"`
	NftSize     int64  `json:"nftSize,omitempty"`
}

// Result is the server-computed TransactionResult attached to some variants
// (§3): reward-execution outputs, burn output amount, entrust remainder.
type Result struct {
	Outputs      Outputs       `json:"outputs,omitempty"`
	Remainder    amount.Amount `json:"remainder,omitempty"`
	OutputAmount amount.Amount `json:"outputAmount,omitempty"`
}

// TransactionWithResult is a signed transaction plus its optional result,
// the unit the resolver, classifier, and builder all operate on.
type TransactionWithResult struct {
	Hash    string  `json:"hash"`
	Signer  string  `json:"signer"`
	SubType SubType `json:"subType"`
	Payload Payload `json:"payload"`
	Result  *Result `json:"result,omitempty"`
}

func (tx TransactionWithResult) meta() subTypeMeta {
	m, ok := subTypeTable[tx.SubType]
	if !ok {
		panic(fmt.Sprintf("model: unregistered sub-type %q", tx.SubType))
	}
	return m
}

// Kind reports the top-level variant this transaction's sub-type belongs to.
func (tx TransactionWithResult) Kind() Kind { return tx.meta().kind }

// CreatedAt returns the strictly-monotone event time used to order tx rows
// within a block (I3).
func (tx TransactionWithResult) CreatedAt() time.Time { return tx.Payload.CreatedAt }

// InputHashes returns the set of input transaction hashes (empty for mint,
// account, group, agenda, record-activity).
func (tx TransactionWithResult) InputHashes() []string { return tx.Payload.InputHashes }

// IsFreeFungible reports membership in the free-fungible classification
// table (§4.5).
func (tx TransactionWithResult) IsFreeFungible() bool { return tx.meta().isFreeFungible }

// IsLockedFungible reports membership in the locked-fungible classification
// table (§4.5).
func (tx TransactionWithResult) IsLockedFungible() bool { return tx.meta().isLockedFungible }

// IsNftOwnerTransfer reports whether this tx changes NFT ownership. For
// DisposeEntrustedNft the new owner is Payload.Output if set, else the input
// signer — callers resolve that refund rule themselves via NftOwnerTarget.
func (tx TransactionWithResult) IsNftOwnerTransfer() bool { return tx.meta().isNftTransfer }

// NftOwnerTarget resolves the new owner for an NFT-owner-transferring tx,
// applying DisposeEntrustedNft's "output, or refund to the input signer"
// rule (§4.5, mirroring the original's get_nft_active_model).
func (tx TransactionWithResult) NftOwnerTarget(inputSigner string) string {
	if tx.SubType == SubDisposeEntrustedNft {
		if tx.Payload.Output != "" {
			return tx.Payload.Output
		}
		return inputSigner
	}
	return tx.Payload.Output
}

// Outputs computes the deposit-side outputs map per the §4.5 extraction
// table. ExecuteReward fails (returns an error) when no Result is attached,
// matching the spec's "fail if result absent" note; the builder logs and
// skips such a transaction rather than aborting the batch.
func (tx TransactionWithResult) Outputs() (Outputs, error) {
	m := tx.meta()
	switch m.outputsFrom {
	case outputsFromPayload:
		return tx.Payload.Outputs, nil
	case outputsFromResult:
		if tx.Result == nil {
			return nil, errors.Errorf("model: %s %s requires a transaction result but none is attached", tx.SubType, tx.Hash)
		}
		return tx.Result.Outputs, nil
	case outputsSignerRemainder:
		if tx.Result == nil {
			return nil, errors.Errorf("model: %s %s requires a transaction result but none is attached", tx.SubType, tx.Hash)
		}
		return Outputs{tx.Signer: tx.Result.Remainder}, nil
	case outputsSignerOutputAmount:
		if tx.Result == nil {
			return nil, errors.Errorf("model: %s %s requires a transaction result but none is attached", tx.SubType, tx.Hash)
		}
		return Outputs{tx.Signer: tx.Result.OutputAmount}, nil
	default:
		return nil, nil
	}
}
