package query

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"github.com/TFMV/bistro/db"
)

// SnapshotEngine answers every question from an immutable in-memory
// Snapshot, walking the row bitmaps of its restaurant index. It is safe for
// concurrent use.
type SnapshotEngine struct {
	snap *db.Snapshot
}

func NewSnapshotEngine(snap *db.Snapshot) *SnapshotEngine {
	return &SnapshotEngine{snap: snap}
}

// Snapshot returns the data the engine reads.
func (e *SnapshotEngine) Snapshot() *db.Snapshot {
	return e.snap
}

// each calls fn for every row matched by f.
func (e *SnapshotEngine) each(ctx context.Context, f Filter, fn func(row uint32)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows, err := e.snap.Rows(f.Restaurant)
	if err != nil {
		return err
	}
	forEach(rows, fn)
	return nil
}

func forEach(rows *roaring.Bitmap, fn func(row uint32)) {
	it := rows.Iterator()
	for it.HasNext() {
		fn(it.Next())
	}
}

// restaurants lists the restaurants selected by f, ascending.
func (e *SnapshotEngine) restaurants(f Filter) []string {
	if f.Restaurant == "" {
		return e.snap.Restaurants()
	}
	if !e.snap.HasRestaurant(f.Restaurant) {
		return nil
	}
	return []string{f.Restaurant}
}

func (e *SnapshotEngine) Restaurants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append(make([]string, 0), e.snap.Restaurants()...), nil
}

func (e *SnapshotEngine) UniverseMetrics(ctx context.Context, restaurant string) (RestaurantMetrics, error) {
	s, err := e.Summary(ctx, Filter{Restaurant: restaurant})
	if err != nil {
		return RestaurantMetrics{}, err
	}
	return RestaurantMetrics{
		Restaurant:        restaurant,
		DistinctCustomers: s.DistinctCustomers,
		Revenue:           s.Revenue,
		Transactions:      s.Transactions,
	}, nil
}

// argmax groups one restaurant's rows by key and returns the winning key and
// its aggregate. weight gives each row's contribution.
func argmax[T int64 | float64](rows *roaring.Bitmap, key func(uint32) string, weight func(uint32) T) (string, T) {
	totals := make(map[string]T)
	forEach(rows, func(row uint32) {
		totals[key(row)] += weight(row)
	})

	var (
		best      string
		bestValue T
		found     bool
	)
	for name, value := range totals {
		if !found || outranks(value, name, bestValue, best) {
			best, bestValue, found = name, value, true
		}
	}
	return best, bestValue
}

func one(uint32) int64 { return 1 }

func (e *SnapshotEngine) MostPopularDishes(ctx context.Context) ([]DishCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]DishCount, 0)
	for _, r := range e.snap.Restaurants() {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		food, orders := argmax(rows, e.snap.Food, one)
		out = append(out, DishCount{Restaurant: r, Food: food, Orders: orders})
	}
	return out, nil
}

func (e *SnapshotEngine) MostProfitableDishes(ctx context.Context) ([]DishRevenue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]DishRevenue, 0)
	for _, r := range e.snap.Restaurants() {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		food, revenue := argmax(rows, e.snap.Food, e.snap.Cost)
		out = append(out, DishRevenue{Restaurant: r, Food: food, Revenue: revenue})
	}
	return out, nil
}

func (e *SnapshotEngine) MostFrequentCustomers(ctx context.Context) ([]CustomerVisits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]CustomerVisits, 0)
	for _, r := range e.snap.Restaurants() {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		customer, visits := argmax(rows, e.snap.Customer, one)
		out = append(out, CustomerVisits{Restaurant: r, Customer: customer, Visits: visits})
	}
	return out, nil
}

// TopExplorers walks the customer index: each customer's visit bitmap is
// reduced to the set of restaurants it touches.
func (e *SnapshotEngine) TopExplorers(ctx context.Context, k int) ([]Explorer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	customers, err := e.snap.Indexes().Values("customer_name")
	if err != nil {
		return nil, err
	}

	out := make([]Explorer, 0, len(customers))
	for _, c := range customers {
		rows, err := e.snap.CustomerRows(c)
		if err != nil {
			return nil, err
		}
		visited := make(map[string]struct{})
		forEach(rows, func(row uint32) {
			visited[e.snap.Restaurant(row)] = struct{}{}
		})
		out = append(out, Explorer{Customer: c, Restaurants: int64(len(visited))})
	}
	sortExplorers(out)
	return limit(out, explorersK(k)), nil
}

func (e *SnapshotEngine) Summary(ctx context.Context, f Filter) (Summary, error) {
	var (
		revenue float64
		count   int64
	)
	customers := make(map[string]struct{})
	err := e.each(ctx, f, func(row uint32) {
		customers[e.snap.Customer(row)] = struct{}{}
		revenue += e.snap.Cost(row)
		count++
	})
	if err != nil {
		return Summary{}, err
	}
	return newSummary(int64(len(customers)), revenue, count), nil
}

func (e *SnapshotEngine) RevenueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]RestaurantValue, 0)
	for _, r := range e.restaurants(f) {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		var sum float64
		forEach(rows, func(row uint32) { sum += e.snap.Cost(row) })
		out = append(out, RestaurantValue{Restaurant: r, Value: sum})
	}
	sortRestaurantValues(out)
	return out, nil
}

func (e *SnapshotEngine) AverageOrderValueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]RestaurantValue, 0)
	for _, r := range e.restaurants(f) {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		var sum float64
		forEach(rows, func(row uint32) { sum += e.snap.Cost(row) })
		out = append(out, RestaurantValue{Restaurant: r, Value: sum / float64(rows.GetCardinality())})
	}
	sortRestaurantValues(out)
	return out, nil
}

func (e *SnapshotEngine) CustomersByRestaurant(ctx context.Context, f Filter) ([]RestaurantCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]RestaurantCount, 0)
	for _, r := range e.restaurants(f) {
		rows, err := e.snap.Rows(r)
		if err != nil {
			return nil, err
		}
		customers := make(map[string]struct{})
		forEach(rows, func(row uint32) { customers[e.snap.Customer(row)] = struct{}{} })
		out = append(out, RestaurantCount{Restaurant: r, Count: int64(len(customers))})
	}
	sortRestaurantCounts(out)
	return out, nil
}

func (e *SnapshotEngine) TopFoodsByRevenue(ctx context.Context, f Filter, k int) ([]FoodRevenue, error) {
	totals := make(map[string]float64)
	err := e.each(ctx, f, func(row uint32) {
		totals[e.snap.Food(row)] += e.snap.Cost(row)
	})
	if err != nil {
		return nil, err
	}
	out := make([]FoodRevenue, 0, len(totals))
	for food, revenue := range totals {
		out = append(out, FoodRevenue{Food: food, Revenue: revenue})
	}
	sortFoodRevenues(out)
	return limit(out, topFoodsK(k)), nil
}

var (
	_ Engine = (*SQLEngine)(nil)
	_ Engine = (*SnapshotEngine)(nil)
)
