package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// duckdbBackend bulk loads through a temporary Parquet file, which DuckDB
// ingests natively.
type duckdbBackend struct{}

func (duckdbBackend) open(ctx context.Context, path string) (*sql.DB, error) {
	return sql.Open("duckdb", path)
}

func (duckdbBackend) replace(ctx context.Context, conn *sql.DB, rec arrow.Record) error {
	var parquetPath string
	if rec.NumRows() > 0 {
		p, err := writeParquet(rec)
		if err != nil {
			return err
		}
		defer os.Remove(p)
		parquetPath = p
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropTableSQL); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if parquetPath != "" {
		insert := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_parquet('%s')",
			TableName, strings.ReplaceAll(parquetPath, "'", "''"))
		if _, err := tx.ExecContext(ctx, insert); err != nil {
			return fmt.Errorf("failed to execute INSERT FROM parquet: %w", err)
		}
	}
	return tx.Commit()
}

func (duckdbBackend) indexes(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT index_name FROM duckdb_indexes() WHERE table_name = ? ORDER BY index_name", TableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNames(rows)
}

// writeParquet stores rec in a temporary Parquet file and returns its path.
func writeParquet(rec arrow.Record) (string, error) {
	file, err := os.CreateTemp("", "bistro-*.parquet")
	if err != nil {
		return "", fmt.Errorf("failed to create parquet file: %w", err)
	}
	path := file.Name()

	writer, err := pqarrow.NewFileWriter(rec.Schema(), file, nil, pqarrow.DefaultWriterProps())
	if err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write record to parquet: %w", err)
	}
	// Closing the writer flushes the footer and closes the file.
	if err := writer.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return path, nil
}

func scanNames(rows *sql.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
