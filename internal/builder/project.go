package builder

import (
	"encoding/json"
	"fmt"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/entity"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/store"
)

func decodeTxState(s entity.TxState) (model.TransactionWithResult, error) {
	var tx model.TransactionWithResult
	if err := json.Unmarshal([]byte(s.Raw), &tx); err != nil {
		return model.TransactionWithResult{}, fmt.Errorf("decode tx_state %s: %w", s.Hash, err)
	}
	return tx, nil
}

// batchAccumulator collects every derived row and WAL fold the current
// batch produces, so commit() can write them in one DB transaction (§4.7
// step 5). This is the table-driven projection §9 calls for: one flat
// structure fed by applyTransaction rather than one method per sub-variant.
type batchAccumulator struct {
	txs            []entity.Tx
	nftTxs         []entity.NftTx
	nftFiles       []entity.NftFile
	accounts       []entity.Account
	accountMappers []entity.AccountMapper
	nftOwners      map[string]entity.NftOwner // tokenId -> latest-by-event-time owner

	freeAccum   store.Accum
	lockedAccum store.Accum

	touched map[string]struct{} // accounts whose working balance changed this batch
}

func newBatchAccumulator() *batchAccumulator {
	return &batchAccumulator{
		nftOwners:   make(map[string]entity.NftOwner),
		freeAccum:   make(store.Accum),
		lockedAccum: make(store.Accum),
		touched:     make(map[string]struct{}),
	}
}

func participatingAccounts(tx model.TransactionWithResult) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(acct string) {
		if acct == "" {
			return
		}
		if _, ok := seen[acct]; ok {
			return
		}
		seen[acct] = struct{}{}
		out = append(out, acct)
	}

	add(tx.Signer)
	add(tx.Payload.From)
	add(tx.Payload.To)
	add(tx.Payload.Output)
	outputs, _ := tx.Outputs()
	for acct := range outputs {
		add(acct)
	}
	return out
}

func projectTxRow(blockHash string, blockNumber int64, tx model.TransactionWithResult, raw []byte) entity.Tx {
	toAddrs := make([]string, 0, 1)
	outputs, _ := tx.Outputs()
	for acct := range outputs {
		if acct != tx.Signer {
			toAddrs = append(toAddrs, acct)
		}
	}
	if len(toAddrs) == 0 && tx.Payload.To != "" {
		toAddrs = append(toAddrs, tx.Payload.To)
	}
	if len(toAddrs) == 0 && tx.Payload.Output != "" {
		toAddrs = append(toAddrs, tx.Payload.Output)
	}
	toJSON, _ := json.Marshal(toAddrs)
	toStr := string(toJSON)

	row := entity.Tx{
		Hash:        tx.Hash,
		TxType:      string(tx.Kind()),
		SubType:     string(tx.SubType),
		FromAddr:    tx.Signer,
		ToAddr:      toStr,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		EventTime:   tx.CreatedAt(),
		CreatedAt:   tx.CreatedAt(),
		JSON:        string(raw),
	}

	if inputs := tx.InputHashes(); len(inputs) > 0 {
		data, _ := json.Marshal(inputs)
		s := string(data)
		row.InputHashes = &s
	}
	if len(outputs) > 0 {
		plain := make(map[string]string, len(outputs))
		for acct, amt := range outputs {
			plain[acct] = amt.String()
		}
		data, _ := json.Marshal(plain)
		s := string(data)
		row.OutputVals = &s
	}
	return row
}

func accountRow(tx model.TransactionWithResult) entity.Account {
	return entity.Account{Address: tx.Signer, EventTime: tx.CreatedAt(), CreatedAt: tx.CreatedAt()}
}

func nftFileRow(tx model.TransactionWithResult) entity.NftFile {
	return entity.NftFile{
		TokenID:  tx.Payload.TokenID,
		Name:     tx.Payload.NftName,
		FileType: tx.Payload.NftFileType,
		FileHash: tx.Payload.NftFileHash,
		Size:     tx.Payload.NftSize,
	}
}

func nftTxRow(tx model.TransactionWithResult, action string) entity.NftTx {
	return entity.NftTx{
		TxHash:  tx.Hash,
		TokenID: tx.Payload.TokenID,
		Action:  action,
		From:    tx.Payload.From,
		To:      tx.Payload.Output,
	}
}

func accountMapperRow(address string, tx model.TransactionWithResult) entity.AccountMapper {
	return entity.AccountMapper{Address: address, Hash: tx.Hash, EventTime: tx.CreatedAt()}
}
