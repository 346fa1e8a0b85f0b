// Package dbx wires the relational store's connection pool: one pool (at
// most 8 open and 4 idle connections, each connection closed after 2
// minutes of lifetime) shared by the downloader, builder and resolver. No
// connect or acquire timeout is set here. Grounded on klaytn's gorm+mysql wiring
// conventions in storage/database (db_manager.go's connection setup) and on
// the original's sea-orm DatabaseConnection bootstrap in main.rs.
package dbx

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"
)

const (
	maxOpenConns    = 8
	maxIdleConns    = 4
	connMaxLifetime = 2 * time.Minute
)

// Open connects to dsn and configures the pool per §5's resource model.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbx: open %w", err)
	}

	db.DB().SetMaxOpenConns(maxOpenConns)
	db.DB().SetMaxIdleConns(maxIdleConns)
	db.DB().SetConnMaxLifetime(connMaxLifetime)

	return db, nil
}
