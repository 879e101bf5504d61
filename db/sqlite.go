package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// insertBatchSize keeps each INSERT well below SQLite's bound-variable limit.
const insertBatchSize = 500

// sqliteBackend writes through gorm. SQLite in-memory databases are private
// to a connection, so the pool is pinned to one.
type sqliteBackend struct {
	gorm *gorm.DB
}

func (b *sqliteBackend) open(ctx context.Context, path string) (*sql.DB, error) {
	g, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	conn, err := g.DB()
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	b.gorm = g
	return conn, nil
}

func (b *sqliteBackend) replace(ctx context.Context, _ *sql.DB, rec arrow.Record) error {
	rows := TransactionsFromRecord(rec)
	return b.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(dropTableSQL).Error; err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
		if err := tx.Exec(createTableSQL).Error; err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
		return nil
	})
}

func (b *sqliteBackend) indexes(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name LIKE 'idx_%' ORDER BY name",
		TableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}
