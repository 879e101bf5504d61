package query

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/TFMV/bistro/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type row struct {
	restaurant, food, customer string
	cost                       float64
}

func transactions(rows []row) []db.Transaction {
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]db.Transaction, len(rows))
	for i, r := range rows {
		out[i] = db.Transaction{
			ID:             int64(i + 1),
			RestaurantName: r.restaurant,
			FoodName:       r.food,
			CustomerName:   r.customer,
			FoodCost:       r.cost,
			CreatedAt:      at,
		}
	}
	return out
}

func newSnapshotEngine(t require.TestingT, rows []row) *SnapshotEngine {
	rec := db.BuildRecord(transactions(rows))
	defer rec.Release()
	snap, err := db.NewSnapshot(rec)
	require.NoError(t, err)
	return NewSnapshotEngine(snap)
}

func newSQLEngine(t require.TestingT, driver db.Driver, path string, rows []row) (*SQLEngine, *db.DB) {
	store, err := db.Open(context.Background(), db.Config{Driver: driver, Path: path}, zap.NewNop())
	require.NoError(t, err)
	rec := db.BuildRecord(transactions(rows))
	defer rec.Release()
	_, err = store.ReplaceTransactions(context.Background(), rec)
	require.NoError(t, err)
	return NewSQLEngine(store, zap.NewNop()), store
}

// engines returns every Engine implementation loaded with rows.
func engines(t *testing.T, rows []row) map[string]Engine {
	t.Helper()
	out := make(map[string]Engine)
	for _, driver := range []db.Driver{db.DriverDuckDB, db.DriverSQLite} {
		path := filepath.Join(t.TempDir(), "bistro."+string(driver))
		e, store := newSQLEngine(t, driver, path, rows)
		t.Cleanup(func() { store.Close() })
		out["sql/"+string(driver)] = e
	}
	snap := newSnapshotEngine(t, rows)
	t.Cleanup(snap.Snapshot().Release)
	out["snapshot"] = snap
	return out
}

var smallTable = []row{
	{"A", "pizza", "alice", 5.0},
	{"A", "pizza", "bob", 5.0},
	{"A", "soda", "alice", 2.0},
}

func TestSmallTable(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t, smallTable) {
		t.Run(name, func(t *testing.T) {
			m, err := e.UniverseMetrics(ctx, "A")
			require.NoError(t, err)
			assert.Equal(t, RestaurantMetrics{Restaurant: "A", DistinctCustomers: 2, Revenue: 12.0, Transactions: 3}, m)

			popular, err := e.MostPopularDishes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []DishCount{{Restaurant: "A", Food: "pizza", Orders: 2}}, popular)

			profitable, err := e.MostProfitableDishes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []DishRevenue{{Restaurant: "A", Food: "pizza", Revenue: 10.0}}, profitable)

			frequent, err := e.MostFrequentCustomers(ctx)
			require.NoError(t, err)
			assert.Equal(t, []CustomerVisits{{Restaurant: "A", Customer: "alice", Visits: 2}}, frequent)

			s, err := e.Summary(ctx, Filter{})
			require.NoError(t, err)
			require.NotNil(t, s.AverageOrderValue)
			assert.Equal(t, 4.0, *s.AverageOrderValue)
			assert.Equal(t, int64(3), s.Transactions)
		})
	}
}

func TestEmptyTable(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t, nil) {
		t.Run(name, func(t *testing.T) {
			s, err := e.Summary(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, Summary{}, s)
			assert.Nil(t, s.AverageOrderValue)

			m, err := e.UniverseMetrics(ctx, "A")
			require.NoError(t, err)
			assert.Equal(t, RestaurantMetrics{Restaurant: "A"}, m)

			restaurants, err := e.Restaurants(ctx)
			require.NoError(t, err)
			assert.Empty(t, restaurants)

			popular, err := e.MostPopularDishes(ctx)
			require.NoError(t, err)
			assert.Empty(t, popular)

			explorers, err := e.TopExplorers(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, explorers)

			revenue, err := e.RevenueByRestaurant(ctx, Filter{})
			require.NoError(t, err)
			assert.Empty(t, revenue)

			aov, err := e.AverageOrderValueByRestaurant(ctx, Filter{})
			require.NoError(t, err)
			assert.Empty(t, aov)

			foods, err := e.TopFoodsByRevenue(ctx, Filter{}, 0)
			require.NoError(t, err)
			assert.Empty(t, foods)
		})
	}
}

func TestTopExplorers(t *testing.T) {
	// dora visits 3 restaurants, bob and carl 2, abe 1.
	rows := []row{
		{"R1", "tea", "dora", 1}, {"R2", "tea", "dora", 1}, {"R3", "tea", "dora", 1},
		{"R1", "tea", "carl", 1}, {"R2", "tea", "carl", 1}, {"R2", "tea", "carl", 1},
		{"R3", "tea", "bob", 1}, {"R1", "tea", "bob", 1},
		{"R1", "tea", "abe", 1}, {"R1", "tea", "abe", 1},
	}
	ctx := context.Background()
	for name, e := range engines(t, rows) {
		t.Run(name, func(t *testing.T) {
			top, err := e.TopExplorers(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []Explorer{{Customer: "dora", Restaurants: 3}, {Customer: "bob", Restaurants: 2}}, top)

			all, err := e.TopExplorers(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 4)
			assert.Equal(t, "abe", all[3].Customer)
		})
	}
}

func TestArgmaxTieBreak(t *testing.T) {
	rows := []row{
		{"B", "soda", "zoe", 3},
		{"B", "pizza", "yan", 3},
		{"A", "tea", "xia", 2},
	}
	ctx := context.Background()
	for name, e := range engines(t, rows) {
		t.Run(name, func(t *testing.T) {
			popular, err := e.MostPopularDishes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []DishCount{
				{Restaurant: "A", Food: "tea", Orders: 1},
				{Restaurant: "B", Food: "pizza", Orders: 1},
			}, popular)

			profitable, err := e.MostProfitableDishes(ctx)
			require.NoError(t, err)
			assert.Equal(t, "pizza", profitable[1].Food)

			frequent, err := e.MostFrequentCustomers(ctx)
			require.NoError(t, err)
			assert.Equal(t, "yan", frequent[1].Customer)
		})
	}
}

func TestFilteredGroups(t *testing.T) {
	rows := []row{
		{"A", "pizza", "alice", 5},
		{"A", "soda", "bob", 2},
		{"B", "tea", "alice", 1.5},
		{"B", "tea", "carol", 1.5},
		{"B", "cake", "carol", 4},
	}
	ctx := context.Background()
	for name, e := range engines(t, rows) {
		t.Run(name, func(t *testing.T) {
			revenue, err := e.RevenueByRestaurant(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []RestaurantValue{{Restaurant: "A", Value: 7}, {Restaurant: "B", Value: 7}}, revenue)

			aov, err := e.AverageOrderValueByRestaurant(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []RestaurantValue{{Restaurant: "A", Value: 3.5}, {Restaurant: "B", Value: 7.0 / 3}}, aov)

			customers, err := e.CustomersByRestaurant(ctx, Filter{Restaurant: "B"})
			require.NoError(t, err)
			assert.Equal(t, []RestaurantCount{{Restaurant: "B", Count: 2}}, customers)

			foods, err := e.TopFoodsByRevenue(ctx, Filter{Restaurant: "B"}, 1)
			require.NoError(t, err)
			assert.Equal(t, []FoodRevenue{{Food: "cake", Revenue: 4}}, foods)

			foods, err = e.TopFoodsByRevenue(ctx, Filter{}, 0)
			require.NoError(t, err)
			assert.Equal(t, []FoodRevenue{
				{Food: "pizza", Revenue: 5}, {Food: "cake", Revenue: 4}, {Food: "tea", Revenue: 3}, {Food: "soda", Revenue: 2},
			}, foods)

			s, err := e.Summary(ctx, Filter{Restaurant: "missing"})
			require.NoError(t, err)
			assert.Equal(t, Summary{}, s)

			names, err := e.Restaurants(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, names)
		})
	}
}

func TestQueryBeforeLoad(t *testing.T) {
	store, err := db.Open(context.Background(), db.Config{Driver: db.DriverSQLite, Path: db.MemoryPath}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, err = NewSQLEngine(store, nil).Summary(context.Background(), Filter{})
	var unavailable *db.StorageUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestCancelledContext(t *testing.T) {
	e := newSnapshotEngine(t, smallTable)
	defer e.Snapshot().Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Summary(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

// genRows draws small tables from narrow value sets so groups collide and
// ties are common. Costs are halves, so float sums are exact.
func genRows(t *rapid.T) []row {
	restaurants := []string{"R1", "R2", "R3"}
	foods := []string{"beans", "corn", "tea", "soup"}
	customers := []string{"ann", "ben", "cy", "di", "ed"}
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) row {
		return row{
			restaurant: rapid.SampledFrom(restaurants).Draw(t, "restaurant"),
			food:       rapid.SampledFrom(foods).Draw(t, "food"),
			customer:   rapid.SampledFrom(customers).Draw(t, "customer"),
			cost:       float64(rapid.IntRange(2, 18).Draw(t, "halves")) / 2,
		}
	}), 0, 60).Draw(t, "rows")
}

func TestEnginesAgree(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		rows := genRows(t)
		snap := newSnapshotEngine(t, rows)
		defer snap.Snapshot().Release()
		driver := rapid.SampledFrom([]db.Driver{db.DriverDuckDB, db.DriverSQLite}).Draw(t, "driver")
		sqlEngine, store := newSQLEngine(t, driver, db.MemoryPath, rows)
		defer store.Close()

		filter := Filter{Restaurant: rapid.SampledFrom([]string{"", "R1", "R2", "nowhere"}).Draw(t, "filter")}
		k := rapid.IntRange(-1, 6).Draw(t, "k")

		for _, check := range []struct {
			name string
			call func(Engine) (any, error)
		}{
			{"restaurants", func(e Engine) (any, error) { return e.Restaurants(ctx) }},
			{"universe", func(e Engine) (any, error) { return e.UniverseMetrics(ctx, "R1") }},
			{"popular", func(e Engine) (any, error) { return e.MostPopularDishes(ctx) }},
			{"profitable", func(e Engine) (any, error) { return e.MostProfitableDishes(ctx) }},
			{"frequent", func(e Engine) (any, error) { return e.MostFrequentCustomers(ctx) }},
			{"explorers", func(e Engine) (any, error) { return e.TopExplorers(ctx, k) }},
			{"summary", func(e Engine) (any, error) { return e.Summary(ctx, filter) }},
			{"revenue", func(e Engine) (any, error) { return e.RevenueByRestaurant(ctx, filter) }},
			{"aov", func(e Engine) (any, error) { return e.AverageOrderValueByRestaurant(ctx, filter) }},
			{"customers", func(e Engine) (any, error) { return e.CustomersByRestaurant(ctx, filter) }},
			{"top-foods", func(e Engine) (any, error) { return e.TopFoodsByRevenue(ctx, filter, k) }},
		} {
			want, err := check.call(sqlEngine)
			require.NoError(t, err, check.name)
			got, err := check.call(snap)
			require.NoError(t, err, check.name)
			assert.Equal(t, want, got, "%s on %s", check.name, driver)
		}
	})
}

func TestRevenueRoundTrip(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		rows := genRows(t)
		e := newSnapshotEngine(t, rows)
		defer e.Snapshot().Release()

		byRestaurant, err := e.RevenueByRestaurant(ctx, Filter{})
		require.NoError(t, err)
		var sum float64
		for _, v := range byRestaurant {
			sum += v.Value
		}

		s, err := e.Summary(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, s.Revenue, sum)
	})
}

func TestPopularDishDominates(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		rows := genRows(t)
		e := newSnapshotEngine(t, rows)
		defer e.Snapshot().Release()

		counts := make(map[string]map[string]int64)
		for _, r := range rows {
			if counts[r.restaurant] == nil {
				counts[r.restaurant] = make(map[string]int64)
			}
			counts[r.restaurant][r.food]++
		}

		popular, err := e.MostPopularDishes(ctx)
		require.NoError(t, err)
		require.Len(t, popular, len(counts))
		for _, d := range popular {
			assert.Equal(t, counts[d.Restaurant][d.Food], d.Orders)
			for food, n := range counts[d.Restaurant] {
				assert.GreaterOrEqual(t, d.Orders, n, fmt.Sprintf("%s: %s beats %s", d.Restaurant, food, d.Food))
			}
		}
	})
}
