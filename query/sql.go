package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TFMV/bistro/db"
	"go.uber.org/zap"
)

// Argmax queries rank groups inside each restaurant with ROW_NUMBER so ties
// resolve by name instead of by incidental group order.
var (
	popularDishesSQL = fmt.Sprintf(`
SELECT restaurant_name, food_name, orders FROM (
    SELECT restaurant_name, food_name, COUNT(*) AS orders,
           ROW_NUMBER() OVER (PARTITION BY restaurant_name ORDER BY COUNT(*) DESC, food_name ASC) AS rn
    FROM %s
    GROUP BY restaurant_name, food_name
) ranked
WHERE rn = 1
ORDER BY restaurant_name`, db.TableName)

	profitableDishesSQL = fmt.Sprintf(`
SELECT restaurant_name, food_name, revenue FROM (
    SELECT restaurant_name, food_name, SUM(food_cost) AS revenue,
           ROW_NUMBER() OVER (PARTITION BY restaurant_name ORDER BY SUM(food_cost) DESC, food_name ASC) AS rn
    FROM %s
    GROUP BY restaurant_name, food_name
) ranked
WHERE rn = 1
ORDER BY restaurant_name`, db.TableName)

	frequentCustomersSQL = fmt.Sprintf(`
SELECT restaurant_name, customer_name, visits FROM (
    SELECT restaurant_name, customer_name, COUNT(*) AS visits,
           ROW_NUMBER() OVER (PARTITION BY restaurant_name ORDER BY COUNT(*) DESC, customer_name ASC) AS rn
    FROM %s
    GROUP BY restaurant_name, customer_name
) ranked
WHERE rn = 1
ORDER BY restaurant_name`, db.TableName)

	explorersSQL = fmt.Sprintf(`
SELECT customer_name, COUNT(DISTINCT restaurant_name) AS restaurants
FROM %s
GROUP BY customer_name
ORDER BY restaurants DESC, customer_name ASC
LIMIT ?`, db.TableName)
)

// SQLEngine runs every question as a single statement against the store.
type SQLEngine struct {
	db     *db.DB
	logger *zap.Logger
}

func NewSQLEngine(store *db.DB, logger *zap.Logger) *SQLEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLEngine{db: store, logger: logger}
}

// where renders the optional restaurant predicate.
func where(f Filter) (string, []any) {
	if f.Restaurant == "" {
		return "", nil
	}
	return " WHERE restaurant_name = ?", []any{f.Restaurant}
}

func (e *SQLEngine) Restaurants(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	q := fmt.Sprintf("SELECT DISTINCT restaurant_name FROM %s ORDER BY restaurant_name", db.TableName)
	err := e.db.Select(ctx, "restaurants", q, nil, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	return names, err
}

func (e *SQLEngine) UniverseMetrics(ctx context.Context, restaurant string) (RestaurantMetrics, error) {
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

func (e *SQLEngine) MostPopularDishes(ctx context.Context) ([]DishCount, error) {
	out := make([]DishCount, 0)
	err := e.db.Select(ctx, "popular_dishes", popularDishesSQL, nil, func(rows *sql.Rows) error {
		var d DishCount
		if err := rows.Scan(&d.Restaurant, &d.Food, &d.Orders); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (e *SQLEngine) MostProfitableDishes(ctx context.Context) ([]DishRevenue, error) {
	out := make([]DishRevenue, 0)
	err := e.db.Select(ctx, "profitable_dishes", profitableDishesSQL, nil, func(rows *sql.Rows) error {
		var d DishRevenue
		if err := rows.Scan(&d.Restaurant, &d.Food, &d.Revenue); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (e *SQLEngine) MostFrequentCustomers(ctx context.Context) ([]CustomerVisits, error) {
	out := make([]CustomerVisits, 0)
	err := e.db.Select(ctx, "frequent_customers", frequentCustomersSQL, nil, func(rows *sql.Rows) error {
		var c CustomerVisits
		if err := rows.Scan(&c.Restaurant, &c.Customer, &c.Visits); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (e *SQLEngine) TopExplorers(ctx context.Context, k int) ([]Explorer, error) {
	out := make([]Explorer, 0)
	err := e.db.Select(ctx, "explorers", explorersSQL, []any{explorersK(k)}, func(rows *sql.Rows) error {
		var x Explorer
		if err := rows.Scan(&x.Customer, &x.Restaurants); err != nil {
			return err
		}
		out = append(out, x)
		return nil
	})
	return out, err
}

func (e *SQLEngine) Summary(ctx context.Context, f Filter) (Summary, error) {
	clause, args := where(f)
	q := fmt.Sprintf("SELECT COUNT(DISTINCT customer_name), SUM(food_cost), COUNT(*) FROM %s%s", db.TableName, clause)

	var (
		customers int64
		revenue   sql.NullFloat64
		count     int64
	)
	if err := e.db.SelectRow(ctx, "summary", q, args, &customers, &revenue, &count); err != nil {
		return Summary{}, err
	}
	return newSummary(customers, revenue.Float64, count), nil
}

func (e *SQLEngine) RevenueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error) {
	clause, args := where(f)
	q := fmt.Sprintf(`SELECT restaurant_name, SUM(food_cost) AS revenue FROM %s%s
GROUP BY restaurant_name ORDER BY revenue DESC, restaurant_name ASC`, db.TableName, clause)

	out := make([]RestaurantValue, 0)
	err := e.db.Select(ctx, "revenue_by_restaurant", q, args, func(rows *sql.Rows) error {
		var v RestaurantValue
		if err := rows.Scan(&v.Restaurant, &v.Value); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// AverageOrderValueByRestaurant divides in Go so both engines round identically.
func (e *SQLEngine) AverageOrderValueByRestaurant(ctx context.Context, f Filter) ([]RestaurantValue, error) {
	clause, args := where(f)
	q := fmt.Sprintf("SELECT restaurant_name, SUM(food_cost), COUNT(*) FROM %s%s GROUP BY restaurant_name",
		db.TableName, clause)

	out := make([]RestaurantValue, 0)
	err := e.db.Select(ctx, "aov_by_restaurant", q, args, func(rows *sql.Rows) error {
		var (
			name  string
			sum   float64
			count int64
		)
		if err := rows.Scan(&name, &sum, &count); err != nil {
			return err
		}
		out = append(out, RestaurantValue{Restaurant: name, Value: sum / float64(count)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRestaurantValues(out)
	return out, nil
}

func (e *SQLEngine) CustomersByRestaurant(ctx context.Context, f Filter) ([]RestaurantCount, error) {
	clause, args := where(f)
	q := fmt.Sprintf(`SELECT restaurant_name, COUNT(DISTINCT customer_name) AS customers FROM %s%s
GROUP BY restaurant_name ORDER BY customers DESC, restaurant_name ASC`, db.TableName, clause)

	out := make([]RestaurantCount, 0)
	err := e.db.Select(ctx, "customers_by_restaurant", q, args, func(rows *sql.Rows) error {
		var c RestaurantCount
		if err := rows.Scan(&c.Restaurant, &c.Count); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (e *SQLEngine) TopFoodsByRevenue(ctx context.Context, f Filter, k int) ([]FoodRevenue, error) {
	clause, args := where(f)
	q := fmt.Sprintf(`SELECT food_name, SUM(food_cost) AS revenue FROM %s%s
GROUP BY food_name ORDER BY revenue DESC, food_name ASC LIMIT ?`, db.TableName, clause)
	args = append(args, topFoodsK(k))

	out := make([]FoodRevenue, 0)
	err := e.db.Select(ctx, "top_foods", q, args, func(rows *sql.Rows) error {
		var fr FoodRevenue
		if err := rows.Scan(&fr.Food, &fr.Revenue); err != nil {
			return err
		}
		out = append(out, fr)
		return nil
	})
	return out, err
}
