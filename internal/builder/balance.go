package builder

import (
	"context"
	"encoding/json"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/entity"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
)

// applyTransaction is one iteration of §4.7 step 4: compute the tx row and
// supplementary rows, then dispatch into the free/locked/NFT update paths
// according to the classifier table (§4.5).
func (b *Builder) applyTransaction(ctx context.Context, blk blockRow, tx model.TransactionWithResult, batch *batchAccumulator) {
	raw, err := json.Marshal(tx)
	if err != nil {
		log.Error("failed to re-encode transaction, skipping", "hash", tx.Hash, "err", err)
		return
	}

	batch.txs = append(batch.txs, projectTxRow(blk.Hash, blk.Number, tx, raw))
	b.projectSupplementary(blk, tx, batch)

	// Entrust/Dispose are both free-fungible and locked-fungible (§4.5):
	// both branches run for them, one crediting/debiting free balance via
	// the entrust's own remainder/output, the other the locked balance.
	if tx.IsFreeFungible() {
		b.updateFreeBalance(ctx, tx, batch)
	}
	if tx.IsLockedFungible() {
		b.updateLockedBalance(ctx, tx, batch)
	}
	if tx.IsNftOwnerTransfer() {
		b.updateNftOwner(ctx, tx, batch)
	}
}

func (b *Builder) projectSupplementary(blk blockRow, tx model.TransactionWithResult, batch *batchAccumulator) {
	switch tx.SubType {
	case model.SubCreateAccount:
		batch.accounts = append(batch.accounts, accountRow(tx))
	case model.SubMintNft:
		batch.nftFiles = append(batch.nftFiles, nftFileRow(tx))
		batch.nftTxs = append(batch.nftTxs, nftTxRow(tx, "MINT"))
	case model.SubTransferNft:
		batch.nftTxs = append(batch.nftTxs, nftTxRow(tx, "TRANSFER"))
	case model.SubBurnNft:
		batch.nftTxs = append(batch.nftTxs, nftTxRow(tx, "BURN"))
	case model.SubEntrustNft:
		batch.nftTxs = append(batch.nftTxs, nftTxRow(tx, "ENTRUST"))
	case model.SubDisposeEntrustedNft:
		batch.nftTxs = append(batch.nftTxs, nftTxRow(tx, "DISPOSE"))
	}

	for _, acct := range participatingAccounts(tx) {
		batch.accountMappers = append(batch.accountMappers, accountMapperRow(acct, tx))
	}
}

// touch returns account's working balance and marks it as changed this
// batch, so commit() knows to upsert exactly this set of accounts and
// nothing else (I6: untouched accounts keep their prior block_number).
func (b *Builder) touch(batch *batchAccumulator, account string) *WorkingBalance {
	batch.touched[account] = struct{}{}
	return b.balances.entry(account)
}

// updateFreeBalance is §4.7's "Free-balance update (the subtle part)":
// deposit phase credits every output, then the withdrawal phase debits the
// signer exactly what it received in each not-yet-spent input. Entrust and
// Burn's self-credit (the special case the spec calls out) falls out
// naturally here because their outputs() table entry is already
// {signer: remainder/outputAmount} — no separate pre-credit step is needed.
func (b *Builder) updateFreeBalance(ctx context.Context, tx model.TransactionWithResult, batch *batchAccumulator) {
	outputs, err := tx.Outputs()
	if err != nil {
		log.Error("invariant violation: outputs unavailable, skipping deposit", "hash", tx.Hash, "subType", tx.SubType, "err", err)
		outputs = nil
	}

	for account, amt := range outputs {
		wb := b.touch(batch, account)
		wb.Free = wb.Free.Add(amt)
		b.ctx.FreeStore.Merge(batch.freeAccum, account, wb.Free)
	}

	signer := tx.Signer
	spent, err := b.ctx.FreeStore.SpentHashes(signer)
	if err != nil {
		log.Error("failed to read spent-inputs, skipping withdrawal phase", "signer", signer, "err", err)
		return
	}

	withdrawOccurred := false
	for _, h := range tx.InputHashes() {
		if spent.Has(h) {
			continue
		}
		inputTx, err := b.ctx.Resolver.TransactionWithResult(ctx, h)
		if err != nil {
			log.Error("failed to resolve input transaction, skipping withdrawal", "signer", signer, "inputHash", h, "err", err)
			continue
		}
		inputOutputs, err := inputTx.Outputs()
		if err != nil {
			log.Error("invariant violation: input tx outputs unavailable, skipping withdrawal", "signer", signer, "inputHash", h, "err", err)
			continue
		}
		w, ok := inputOutputs[signer]
		if !ok {
			log.Warn("invariant violation: signer did not receive this input, skipping withdrawal", "signer", signer, "inputHash", h)
			continue
		}

		wb := b.touch(batch, signer)
		wb.Free = wb.Free.Sub(w)
		withdrawOccurred = true
	}

	if withdrawOccurred {
		newBalance := b.balances.entry(signer).Free
		if err := b.ctx.FreeStore.MergeWithInputs(batch.freeAccum, signer, newBalance, spent, tx.InputHashes()); err != nil {
			log.Error("failed to merge free-balance update", "signer", signer, "hash", tx.Hash, "err", err)
		}
	} else if len(tx.InputHashes()) > 0 {
		// Every declared input hash was already spent, unresolvable, or not
		// paid to the signer: this tx claims inputs but none of them produced a withdrawal (§8
		// scenario 5's double-spend anomaly).
		log.Warn("deposit with no matching withdrawal: possible double-spend", "signer", signer, "hash", tx.Hash, "subType", tx.SubType)
	}
}

// updateLockedBalance is §4.7's locked-balance update: EntrustFungibleToken
// credits the signer's locked balance from its own amount; dispose consumes
// each not-yet-consumed input hash and debits the entrust's signer.
func (b *Builder) updateLockedBalance(ctx context.Context, tx model.TransactionWithResult, batch *batchAccumulator) {
	switch tx.SubType {
	case model.SubEntrustFungibleToken:
		signer := tx.Signer
		wb := b.touch(batch, signer)
		wb.Locked = wb.Locked.Add(tx.Payload.Amount)
		b.ctx.LockedStore.Merge(batch.lockedAccum, signer, wb.Locked)

	case model.SubDisposeEntrustedFungibleToken:
		for _, h := range tx.InputHashes() {
			consumed, err := b.ctx.LockedStore.Contains(h)
			if err != nil {
				log.Error("failed to check consumed-inputs", "hash", h, "err", err)
				continue
			}
			if consumed {
				continue
			}

			entrustTx, err := b.ctx.Resolver.TransactionWithResult(ctx, h)
			if err != nil {
				log.Error("failed to resolve entrust transaction, skipping dispose", "inputHash", h, "err", err)
				continue
			}

			entrustSigner := entrustTx.Signer
			wb := b.touch(batch, entrustSigner)
			wb.Locked = wb.Locked.Sub(entrustTx.Payload.Amount)

			if err := b.ctx.LockedStore.Insert(batch.lockedAccum, entrustSigner, wb.Locked, h); err != nil {
				log.Error("failed to record consumed entrust input", "inputHash", h, "err", err)
			}
		}
	}
}

// updateNftOwner applies latest-wins-by-event-time ownership updates within
// the batch; the event-time guard against the on-disk row is re-checked at
// commit time (§4.7 step 5).
func (b *Builder) updateNftOwner(ctx context.Context, tx model.TransactionWithResult, batch *batchAccumulator) {
	inputSigner := ""
	if tx.SubType == model.SubDisposeEntrustedNft {
		if inputs := tx.InputHashes(); len(inputs) > 0 {
			if entrustTx, err := b.ctx.Resolver.TransactionWithResult(ctx, inputs[0]); err == nil {
				inputSigner = entrustTx.Signer
			} else {
				log.Error("failed to resolve entrust-nft input for refund target", "hash", tx.Hash, "err", err)
			}
		}
	}

	owner := tx.NftOwnerTarget(inputSigner)
	tokenID := tx.Payload.TokenID
	eventTime := tx.CreatedAt()

	if existing, ok := batch.nftOwners[tokenID]; !ok || eventTime.After(existing.EventTime) {
		batch.nftOwners[tokenID] = entity.NftOwner{TokenID: tokenID, Owner: owner, EventTime: eventTime}
	}
}
