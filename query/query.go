// Package query answers the fixed battery of aggregate questions over the
// restaurant_transactions table.
//
// Every argmax uses the same deterministic tie-break: the highest aggregate
// wins and, among equal aggregates, the lexicographically smallest name (byte
// order) wins. Per-restaurant answers are ordered by restaurant name.
package query

import (
	"context"
	"sort"
)

const (
	DefaultExplorersK = 10
	DefaultTopFoodsK  = 15
)

// Filter restricts a query to one restaurant. The zero value selects every row.
type Filter struct {
	Restaurant string `json:"restaurant,omitempty"`
}

// RestaurantMetrics is the deep-dive answer for a single restaurant.
type RestaurantMetrics struct {
	Restaurant        string  `json:"restaurant"`
	DistinctCustomers int64   `json:"distinct_customers"`
	Revenue           float64 `json:"revenue"`
	Transactions      int64   `json:"transactions"`
}

type DishCount struct {
	Restaurant string `json:"restaurant"`
	Food       string `json:"food"`
	Orders     int64  `json:"orders"`
}

type DishRevenue struct {
	Restaurant string  `json:"restaurant"`
	Food       string  `json:"food"`
	Revenue    float64 `json:"revenue"`
}

type CustomerVisits struct {
	Restaurant string `json:"restaurant"`
	Customer   string `json:"customer"`
	Visits     int64  `json:"visits"`
}

// Explorer is a customer ranked by how many distinct restaurants they visited.
type Explorer struct {
	Customer    string `json:"customer"`
	Restaurants int64  `json:"restaurants"`
}

// Summary holds the global metrics. AverageOrderValue is nil when no rows match.
type Summary struct {
	DistinctCustomers int64    `json:"distinct_customers"`
	Revenue           float64  `json:"revenue"`
	Transactions      int64    `json:"transactions"`
	AverageOrderValue *float64 `json:"average_order_value"`
}

type RestaurantValue struct {
	Restaurant string  `json:"restaurant"`
	Value      float64 `json:"value"`
}

type RestaurantCount struct {
	Restaurant string `json:"restaurant"`
	Count      int64  `json:"count"`
}

type FoodRevenue struct {
	Food    string  `json:"food"`
	Revenue float64 `json:"revenue"`
}

// Engine is the read-only aggregate menu. Implementations must return
// identical results for identical table contents.
type Engine interface {
	Restaurants(ctx context.Context) ([]string, error)
	UniverseMetrics(ctx context.Context, restaurant string) (RestaurantMetrics, error)
	MostPopularDishes(ctx context.Context) ([]DishCount, error)
	MostProfitableDishes(ctx context.Context) ([]DishRevenue, error)
	MostFrequentCustomers(ctx context.Context) ([]CustomerVisits, error)
	TopExplorers(ctx context.Context, k int) ([]Explorer, error)
	Summary(ctx context.Context, f Filter) (Summary, error)
	RevenueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error)
	AverageOrderValueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error)
	CustomersByRestaurant(ctx context.Context, f Filter) ([]RestaurantCount, error)
	TopFoodsByRevenue(ctx context.Context, f Filter, k int) ([]FoodRevenue, error)
}

func explorersK(k int) int {
	if k <= 0 {
		return DefaultExplorersK
	}
	return k
}

func topFoodsK(k int) int {
	if k <= 0 {
		return DefaultTopFoodsK
	}
	return k
}

// outranks reports whether (value, name) beats (bestValue, bestName).
func outranks[T int64 | float64](value T, name string, bestValue T, bestName string) bool {
	if value != bestValue {
		return value > bestValue
	}
	return name < bestName
}

func newSummary(customers int64, revenue float64, count int64) Summary {
	s := Summary{DistinctCustomers: customers, Revenue: revenue, Transactions: count}
	if count > 0 {
		mean := revenue / float64(count)
		s.AverageOrderValue = &mean
	}
	return s
}

func sortRestaurantValues(values []RestaurantValue) {
	sort.Slice(values, func(i, j int) bool {
		return outranks(values[i].Value, values[i].Restaurant, values[j].Value, values[j].Restaurant)
	})
}

func sortRestaurantCounts(counts []RestaurantCount) {
	sort.Slice(counts, func(i, j int) bool {
		return outranks(counts[i].Count, counts[i].Restaurant, counts[j].Count, counts[j].Restaurant)
	})
}

func sortFoodRevenues(foods []FoodRevenue) {
	sort.Slice(foods, func(i, j int) bool {
		return outranks(foods[i].Revenue, foods[i].Food, foods[j].Revenue, foods[j].Food)
	})
}

func sortExplorers(explorers []Explorer) {
	sort.Slice(explorers, func(i, j int) bool {
		return outranks(explorers[i].Restaurants, explorers[i].Customer, explorers[j].Restaurants, explorers[j].Customer)
	})
}

func limit[T any](items []T, k int) []T {
	if len(items) > k {
		return items[:k]
	}
	return items
}
