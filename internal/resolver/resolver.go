// Package resolver implements §4.1: given a transaction hash, return its
// full record with result, checking the local raw tx_state table first and
// falling back to the node API. Grounded on the original's
// Finder::transaction_with_result and on klaytn's repository-first lookup
// pattern in datasync/chaindatafetcher/kafka/repository.go.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jinzhu/gorm"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/entity"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/model"
	"github.com/leisuremeta/lmscan-agent-sub000/internal/nodeclient"
)

var log = logx.NewModuleLogger(logx.ModuleResolver)

// Resolver never mutates state and never surfaces not-found: the ledger is
// append-only, so any hash referenced as an input must already exist either
// locally or on the node.
type Resolver struct {
	db     *gorm.DB
	client *nodeclient.Client
}

func New(db *gorm.DB, client *nodeclient.Client) *Resolver {
	return &Resolver{db: db, client: client}
}

// TransactionWithResult returns hash's full record, preferring the local
// tx_state raw JSON over a node round trip.
func (r *Resolver) TransactionWithResult(ctx context.Context, hash string) (model.TransactionWithResult, error) {
	var row entity.TxState
	err := r.db.Where("hash = ?", hash).First(&row).Error
	if err == nil {
		var tx model.TransactionWithResult
		if jsonErr := json.Unmarshal([]byte(row.Raw), &tx); jsonErr != nil {
			return model.TransactionWithResult{}, fmt.Errorf("resolver: decode local tx_state %s: %w", hash, jsonErr)
		}
		return tx, nil
	}
	if err != gorm.ErrRecordNotFound {
		return model.TransactionWithResult{}, fmt.Errorf("resolver: query tx_state %s: %w", hash, err)
	}

	log.Debug("tx not found locally, falling back to node", "hash", hash)
	return r.client.Transaction(ctx, hash)
}
