// Package db owns the relational store behind the restaurant_transactions table.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	loadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "bistro_load_latency_seconds",
		Help: "Bulk load latency distribution",
	})
	queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "bistro_query_latency_seconds",
		Help: "Query latency distribution by query name",
	}, []string{"query"})
	rowsLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bistro_rows_loaded_total",
		Help: "Transactions written by bulk loads",
	})
)

func init() {
	prometheus.MustRegister(loadLatency, queryLatency, rowsLoaded)
}

// ---------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------

// Driver selects the relational engine backing the table.
type Driver string

const (
	DriverDuckDB Driver = "duckdb"
	DriverSQLite Driver = "sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

type Config struct {
	Driver Driver
	Path   string

	// BreakerFailures is the number of consecutive failures that trips the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// DefaultConfig returns a DuckDB file store with a conservative breaker.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverDuckDB,
		Path:            "bistro.duckdb",
		BreakerFailures: 5,
		BreakerTimeout:  5 * time.Second,
	}
}

// backend isolates what differs between engines: opening, bulk writes and
// index introspection. Everything else is plain SQL shared by both.
type backend interface {
	open(ctx context.Context, path string) (*sql.DB, error)
	replace(ctx context.Context, conn *sql.DB, rec arrow.Record) error
	indexes(ctx context.Context, conn *sql.DB) ([]string, error)
}

// ---------------------------------------------------------------------
// DB: the explicitly owned storage handle
// ---------------------------------------------------------------------

// DB is the storage handle passed to the loader and the aggregator.
// Its lifetime is one run; callers Close it.
type DB struct {
	conn    *sql.DB
	cfg     Config
	backend backend
	logger  *zap.Logger

	circuitBreaker *gobreaker.CircuitBreaker[any]
}

// Open connects to the configured engine and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = def.Driver
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	var be backend
	switch cfg.Driver {
	case DriverDuckDB:
		be = &duckdbBackend{}
	case DriverSQLite:
		be = &sqliteBackend{}
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	logger = logger.With(zap.String("driver", string(cfg.Driver)), zap.String("path", cfg.Path))
	logger.Info("Opening transaction store")

	conn, err := be.open(ctx, cfg.Path)
	if err != nil {
		return nil, &StorageUnavailableError{Op: "open", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, &StorageUnavailableError{Op: "ping", Err: err}
	}

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "bistro-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &DB{
		conn:           conn,
		cfg:            cfg,
		backend:        be,
		logger:         logger,
		circuitBreaker: cb,
	}, nil
}

// Driver reports which engine backs the handle.
func (db *DB) Driver() Driver {
	return db.cfg.Driver
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	db.logger.Info("Closing transaction store")
	return db.conn.Close()
}

// guard runs fn through the circuit breaker and classifies failures.
func (db *DB) guard(op string, fn func() error) error {
	_, err := db.circuitBreaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StorageUnavailableError{Op: op, Err: err}
}

// ReplaceTransactions drops any previous table contents and bulk-writes rec
// in a single transaction. It returns the number of rows written.
func (db *DB) ReplaceTransactions(ctx context.Context, rec arrow.Record) (int64, error) {
	if err := ValidateRecord(rec); err != nil {
		return 0, err
	}
	start := time.Now()
	err := db.guard("replace", func() error {
		return db.backend.replace(ctx, db.conn, rec)
	})
	if err != nil {
		return 0, err
	}
	n := rec.NumRows()
	loadLatency.Observe(time.Since(start).Seconds())
	rowsLoaded.Add(float64(n))
	db.logger.Info("Replaced transactions",
		zap.Int64("rows", n),
		zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// CreateIndexes builds the non-unique secondary indexes on the grouping columns.
func (db *DB) CreateIndexes(ctx context.Context) error {
	for _, idx := range Indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.Name, TableName, idx.Column)
		err := db.guard("create index", func() error {
			_, err := db.conn.ExecContext(ctx, stmt)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
		db.logger.Debug("Created index", zap.String("index", idx.Name), zap.String("column", idx.Column))
	}
	return nil
}

// IndexNames lists the secondary indexes present on the table.
func (db *DB) IndexNames(ctx context.Context) ([]string, error) {
	var names []string
	err := db.guard("list indexes", func() error {
		var err error
		names, err = db.backend.indexes(ctx, db.conn)
		return err
	})
	return names, err
}

// Select runs a read-only query and hands every row to scan.
func (db *DB) Select(ctx context.Context, name, query string, args []any, scan func(*sql.Rows) error) error {
	start := time.Now()
	defer func() {
		queryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	return db.guard(name, func() error {
		rows, err := db.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// SelectRow runs a query expected to return exactly one row into dest.
func (db *DB) SelectRow(ctx context.Context, name, query string, args []any, dest ...any) error {
	start := time.Now()
	defer func() {
		queryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	return db.guard(name, func() error {
		return db.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// Count returns the number of rows in the table.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	err := db.SelectRow(ctx, "count", "SELECT COUNT(*) FROM "+TableName, nil, &n)
	return n, err
}

// Snapshot reads the whole table once into an immutable in-memory Snapshot.
func (db *DB) Snapshot(ctx context.Context) (*Snapshot, error) {
	rb := NewRecordBuilder(Pool)
	defer rb.Release()

	query := fmt.Sprintf(
		"SELECT id, restaurant_name, food_name, customer_name, food_cost, created_at FROM %s ORDER BY id",
		TableName)
	err := db.Select(ctx, "snapshot", query, nil, func(rows *sql.Rows) error {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.RestaurantName, &t.FoodName, &t.CustomerName, &t.FoodCost, &t.CreatedAt); err != nil {
			return err
		}
		rb.Append(t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec := rb.NewRecord()
	defer rec.Release()

	snap, err := NewSnapshot(rec)
	if err != nil {
		return nil, err
	}
	db.logger.Info("Snapshot taken", zap.Int("rows", snap.NumRows()), zap.Any("distinct", snap.Cardinalities()))
	return snap, nil
}
