package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/generator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openStore(t *testing.T, driver db.Driver) *db.DB {
	t.Helper()
	store, err := db.Open(context.Background(), db.Config{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "bistro."+string(driver)),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

const sample = `restaurant_names,food_names,first_name,food_cost
A,pizza,alice,5.0
A,pizza,bob,5
A,soda,alice,2.0
`

func TestLoad(t *testing.T) {
	for _, driver := range []db.Driver{db.DriverDuckDB, db.DriverSQLite} {
		t.Run(string(driver), func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, driver)
			l := New(store, nil, zap.NewNop())
			path := writeFile(t, sample)

			for i := 0; i < 2; i++ {
				res, err := l.Load(ctx, path)
				require.NoError(t, err)
				assert.Equal(t, int64(3), res.Rows)
				assert.Equal(t, path, res.Source)
			}

			count, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), count)

			names, err := store.IndexNames(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"idx_restaurant", "idx_food", "idx_customer"}, names)

			snap, err := store.Snapshot(ctx)
			require.NoError(t, err)
			defer snap.Release()
			first := snap.Transaction(0)
			assert.Equal(t, int64(1), first.ID)
			assert.Equal(t, "alice", first.CustomerName)
			assert.Equal(t, int64(3), snap.Transaction(2).ID)
			assert.Equal(t, "soda", snap.Transaction(2).FoodName)
		})
	}
}

func TestLoadHeaderOnly(t *testing.T) {
	store := openStore(t, db.DriverSQLite)
	res, err := New(store, nil, nil).Load(context.Background(), writeFile(t, "a,b,c,d\n"))
	require.NoError(t, err)
	assert.Zero(t, res.Rows)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLoadMissingInput(t *testing.T) {
	store := openStore(t, db.DriverSQLite)
	_, err := New(store, nil, nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))

	var missing *db.MissingInputError
	require.True(t, errors.As(err, &missing), "got %v", err)
}

func TestLoadSchemaMismatch(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{name: "short header", content: "restaurant_names,food_names,first_name\nA,pizza,alice\n", line: 1},
		{name: "extra column", content: "a,b,c,d\nA,pizza,alice,5.0\nA,pizza,bob,5.0,extra\n", line: 3},
		{name: "bad cost", content: "a,b,c,d\nA,pizza,alice,five\n", line: 2},
		{name: "nan cost", content: "a,b,c,d\nA,pizza,alice,5.0\nA,pizza,bob,NaN\n", line: 3},
		{name: "infinite cost", content: "a,b,c,d\nA,pizza,alice,+Inf\n", line: 2},
		{name: "unlisted price", content: "a,b,c,d\nA,pizza,alice,12.34\n", line: 2},
		{name: "price below list", content: "a,b,c,d\nA,pizza,alice,0.5\n", line: 2},
		{name: "empty", content: "", line: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t, db.DriverSQLite)
			_, err := New(store, nil, nil).Load(context.Background(), writeFile(t, tt.content))

			var mismatch *db.SchemaMismatchError
			require.True(t, errors.As(err, &mismatch), "got %v", err)
			assert.Equal(t, tt.line, mismatch.Line)

			var unavailable *db.StorageUnavailableError
			assert.False(t, errors.As(err, &unavailable))
		})
	}
}

func TestLoadGeneratedFile(t *testing.T) {
	ctx := context.Background()
	g, err := generator.New(generator.Config{Rows: 1000, Seed: 3}, nil, nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "data.csv")
	_, err = g.GenerateFile(ctx, path)
	require.NoError(t, err)

	store := openStore(t, db.DriverDuckDB)
	res, err := New(store, nil, nil).Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Rows)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Release()
	for _, r := range snap.Restaurants() {
		assert.Contains(t, generator.Restaurants, r)
	}
}
