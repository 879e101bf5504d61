package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var drivers = []Driver{DriverDuckDB, DriverSQLite}

func sampleTransactions() []Transaction {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Transaction{
		{ID: 1, RestaurantName: "A", FoodName: "pizza", CustomerName: "alice", FoodCost: 5.0, CreatedAt: at},
		{ID: 2, RestaurantName: "A", FoodName: "pizza", CustomerName: "bob", FoodCost: 5.0, CreatedAt: at},
		{ID: 3, RestaurantName: "A", FoodName: "soda", CustomerName: "alice", FoodCost: 2.0, CreatedAt: at},
		{ID: 4, RestaurantName: "B", FoodName: "tea", CustomerName: "carol", FoodCost: 1.5, CreatedAt: at},
	}
}

func openTestDB(t *testing.T, driver Driver) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bistro."+string(driver))
	database, err := Open(context.Background(), Config{Driver: driver, Path: path}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestReplaceTransactions(t *testing.T) {
	for _, driver := range drivers {
		t.Run(string(driver), func(t *testing.T) {
			ctx := context.Background()
			database := openTestDB(t, driver)
			assert.Equal(t, driver, database.Driver())

			rec := BuildRecord(sampleTransactions())
			defer rec.Release()

			// Loading twice must replace, not append.
			for i := 0; i < 2; i++ {
				n, err := database.ReplaceTransactions(ctx, rec)
				require.NoError(t, err)
				assert.Equal(t, int64(4), n)
				require.NoError(t, database.CreateIndexes(ctx))
			}

			count, err := database.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(4), count)

			names, err := database.IndexNames(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"idx_customer", "idx_food", "idx_restaurant"}, names)
		})
	}
}

func TestReplaceWithEmptyRecord(t *testing.T) {
	for _, driver := range drivers {
		t.Run(string(driver), func(t *testing.T) {
			ctx := context.Background()
			database := openTestDB(t, driver)

			full := BuildRecord(sampleTransactions())
			defer full.Release()
			_, err := database.ReplaceTransactions(ctx, full)
			require.NoError(t, err)

			empty := BuildRecord(nil)
			defer empty.Release()
			n, err := database.ReplaceTransactions(ctx, empty)
			require.NoError(t, err)
			assert.Zero(t, n)

			count, err := database.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestSnapshotFromDB(t *testing.T) {
	for _, driver := range drivers {
		t.Run(string(driver), func(t *testing.T) {
			ctx := context.Background()
			database := openTestDB(t, driver)

			txns := sampleTransactions()
			rec := BuildRecord(txns)
			defer rec.Release()
			_, err := database.ReplaceTransactions(ctx, rec)
			require.NoError(t, err)

			snap, err := database.Snapshot(ctx)
			require.NoError(t, err)
			defer snap.Release()

			require.Equal(t, len(txns), snap.NumRows())
			for i, want := range txns {
				got := snap.Transaction(uint32(i))
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.RestaurantName, got.RestaurantName)
				assert.Equal(t, want.CustomerName, got.CustomerName)
				assert.Equal(t, want.FoodCost, got.FoodCost)
				assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
			}
		})
	}
}

func TestQueryBeforeLoad(t *testing.T) {
	for _, driver := range drivers {
		t.Run(string(driver), func(t *testing.T) {
			database := openTestDB(t, driver)

			_, err := database.Count(context.Background())
			var unavailable *StorageUnavailableError
			require.True(t, errors.As(err, &unavailable), "got %v", err)
			assert.Equal(t, "count", unavailable.Op)
		})
	}
}

func TestBreakerTrips(t *testing.T) {
	database, err := Open(context.Background(), Config{
		Driver:          DriverSQLite,
		Path:            MemoryPath,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	defer database.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := database.Count(ctx)
		require.Error(t, err)
	}

	// The breaker is open now; even a valid statement is rejected.
	var one int
	err = database.SelectRow(ctx, "ping", "SELECT 1", nil, &one)
	var unavailable *StorageUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestReplaceRejectsForeignSchema(t *testing.T) {
	database := openTestDB(t, DriverSQLite)
	_, err := database.ReplaceTransactions(context.Background(), nil)
	assert.Error(t, err)
}
