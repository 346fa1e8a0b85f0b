// Package kv is a thin typed facade over an embedded ordered key/value
// store (§4.2), grounded directly on klaytn's storage/database/badger_database.go:
// same badger.DB lifecycle (dir creation, value-log GC ticker), same
// table-prefix pattern for namespacing independent trees over one DB handle.
// Compression stays at badger's default. There is no separate flush step:
// every Insert and Remove commits its own badger transaction before it
// returns, and no background ticker flushes writes.
package kv

import (
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/leisuremeta/lmscan-agent-sub000/internal/logx"
)

var log = logx.NewModuleLogger(logx.ModuleDB)

const (
	gcThreshold    = int64(1 << 30)
	sizeGCTickInterval = time.Minute
)

// Store wraps a single badger.DB handle. Every balance-store tree (spent
// inputs, consumed inputs, WAL) is a Table carved out of one Store by prefix,
// mirroring badgerDB/badgerTable in the teacher.
type Store struct {
	dir      string
	db       *badger.DB
	gcTicker *time.Ticker
}

// Open creates dbDir if missing and opens a badger store rooted there.
func Open(dbDir string) (*Store, error) {
	if fi, err := os.Stat(dbDir); err == nil {
		if !fi.IsDir() {
			return nil, fmt.Errorf("kv: %s is not a directory", dbDir)
		}
	} else if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(dbDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("kv: mkdir %s: %w", dbDir, mkErr)
		}
	} else {
		return nil, fmt.Errorf("kv: stat %s: %w", dbDir, err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dbDir
	opts.ValueDir = dbDir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", dbDir, err)
	}

	s := &Store{dir: dbDir, db: db, gcTicker: time.NewTicker(sizeGCTickInterval)}
	go s.runValueLogGC()
	return s, nil
}

func (s *Store) runValueLogGC() {
	_, lastSize := s.db.Size()
	for range s.gcTicker.C {
		_, currSize := s.db.Size()
		if currSize-lastSize < gcThreshold {
			continue
		}
		if err := s.db.RunValueLogGC(0.5); err != nil {
			log.Error("value log gc failed", "err", err, "dir", s.dir)
			continue
		}
		_, lastSize = s.db.Size()
	}
}

// Close stops the GC ticker and closes the underlying badger handle.
func (s *Store) Close() error {
	s.gcTicker.Stop()
	return s.db.Close()
}

// Table returns a prefixed view over the shared Store, the unit each
// balance-store tree binds to.
func (s *Store) Table(prefix string) *Table {
	return &Table{db: s.db, prefix: []byte(prefix)}
}

// Table is a namespaced byte-key/byte-value view over a shared badger.DB,
// exposing insert, get, remove and contains. It has no flush operation:
// each Insert and Remove is committed by the call itself.
type Table struct {
	db     *badger.DB
	prefix []byte
}

func (t *Table) key(k []byte) []byte {
	full := make([]byte, 0, len(t.prefix)+len(k))
	full = append(full, t.prefix...)
	full = append(full, k...)
	return full
}

// Insert durably writes key -> value. Every call commits its own badger
// transaction: the balance stores rely on each write being visible to a
// read later in the same build batch (§4.3's "later withdrawal in the same
// batch sees the updated set"), so writes are never staged for a deferred
// flush.
func (t *Table) Insert(k, v []byte) error {
	txn := t.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(t.key(k), v); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// Get reads the value at k, returning badger.ErrKeyNotFound when absent.
func (t *Table) Get(k []byte) ([]byte, error) {
	txn := t.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(t.key(k))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Contains reports whether k has a value.
func (t *Table) Contains(k []byte) (bool, error) {
	_, err := t.Get(k)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes k, a no-op if absent.
func (t *Table) Remove(k []byte) error {
	txn := t.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Delete(t.key(k)); err != nil {
		return err
	}
	return txn.Commit(nil)
}

