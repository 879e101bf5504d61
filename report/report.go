// Package report collects the answers to the fixed question set and prints them.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/TFMV/bistro/generator"
	"github.com/TFMV/bistro/query"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type Options struct {
	// Universe is the restaurant the deep-dive metrics describe.
	Universe   string
	ExplorersK int
	TopFoodsK  int
}

func DefaultOptions() Options {
	return Options{
		Universe:   generator.Universe,
		ExplorersK: query.DefaultExplorersK,
		TopFoodsK:  query.DefaultTopFoodsK,
	}
}

type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	Universe          query.RestaurantMetrics `json:"universe"`
	PopularDishes     []query.DishCount       `json:"popular_dishes"`
	ProfitableDishes  []query.DishRevenue     `json:"profitable_dishes"`
	FrequentCustomers []query.CustomerVisits  `json:"frequent_customers"`
	Explorers         []query.Explorer        `json:"explorers"`

	Summary           query.Summary           `json:"summary"`
	Revenue           []query.RestaurantValue `json:"revenue"`
	AverageOrderValue []query.RestaurantValue `json:"average_order_value"`
	Customers         []query.RestaurantCount `json:"customers"`
	TopFoods          []query.FoodRevenue     `json:"top_foods"`
}

// Build runs every question against e. Any error aborts the report.
func Build(ctx context.Context, e query.Engine, opts Options) (*Report, error) {
	if opts.Universe == "" {
		opts.Universe = generator.Universe
	}
	r := &Report{GeneratedAt: time.Now()}

	var err error
	if r.Universe, err = e.UniverseMetrics(ctx, opts.Universe); err != nil {
		return nil, fmt.Errorf("universe metrics: %w", err)
	}
	if r.PopularDishes, err = e.MostPopularDishes(ctx); err != nil {
		return nil, fmt.Errorf("popular dishes: %w", err)
	}
	if r.ProfitableDishes, err = e.MostProfitableDishes(ctx); err != nil {
		return nil, fmt.Errorf("profitable dishes: %w", err)
	}
	if r.FrequentCustomers, err = e.MostFrequentCustomers(ctx); err != nil {
		return nil, fmt.Errorf("frequent customers: %w", err)
	}
	if r.Explorers, err = e.TopExplorers(ctx, opts.ExplorersK); err != nil {
		return nil, fmt.Errorf("explorers: %w", err)
	}
	if r.Summary, err = e.Summary(ctx, query.Filter{}); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	if r.Revenue, err = e.RevenueByRestaurant(ctx, query.Filter{}); err != nil {
		return nil, fmt.Errorf("revenue by restaurant: %w", err)
	}
	if r.AverageOrderValue, err = e.AverageOrderValueByRestaurant(ctx, query.Filter{}); err != nil {
		return nil, fmt.Errorf("average order value: %w", err)
	}
	if r.Customers, err = e.CustomersByRestaurant(ctx, query.Filter{}); err != nil {
		return nil, fmt.Errorf("customers by restaurant: %w", err)
	}
	if r.TopFoods, err = e.TopFoodsByRevenue(ctx, query.Filter{}, opts.TopFoodsK); err != nil {
		return nil, fmt.Errorf("top foods: %w", err)
	}
	return r, nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func count(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Render prints r as text tables.
func Render(w io.Writer, r *Report) error {
	var b strings.Builder
	section := func(title string, body string) {
		b.WriteString(sectionStyle.Render(title))
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("Restaurant transactions report"))
	b.WriteString("\n")

	mean := "n/a"
	if r.Summary.AverageOrderValue != nil {
		mean = money(*r.Summary.AverageOrderValue)
	}
	section("Summary", newTable("Customers", "Revenue", "Transactions", "Avg order").
		Row(count(r.Summary.DistinctCustomers), money(r.Summary.Revenue), count(r.Summary.Transactions), mean).
		String())

	section("1. Distinct customers at "+r.Universe.Restaurant, count(r.Universe.DistinctCustomers))
	section("2. Revenue at "+r.Universe.Restaurant, money(r.Universe.Revenue))

	popular := newTable("Restaurant", "Dish", "Orders")
	for _, d := range r.PopularDishes {
		popular.Row(d.Restaurant, d.Food, count(d.Orders))
	}
	section("3. Most popular dish per restaurant", popular.String())

	profitable := newTable("Restaurant", "Dish", "Revenue")
	for _, d := range r.ProfitableDishes {
		profitable.Row(d.Restaurant, d.Food, money(d.Revenue))
	}
	section("4. Most profitable dish per restaurant", profitable.String())

	frequent := newTable("Restaurant", "Customer", "Visits")
	for _, c := range r.FrequentCustomers {
		frequent.Row(c.Restaurant, c.Customer, count(c.Visits))
	}
	section("5. Most frequent customer per restaurant", frequent.String())

	explorers := newTable("Rank", "Customer", "Restaurants visited")
	for i, x := range r.Explorers {
		explorers.Row(strconv.Itoa(i+1), x.Customer, count(x.Restaurants))
	}
	section("Top restaurant explorers", explorers.String())

	grouped := newTable("Restaurant", "Revenue", "Avg order", "Customers")
	aov := make(map[string]float64, len(r.AverageOrderValue))
	for _, v := range r.AverageOrderValue {
		aov[v.Restaurant] = v.Value
	}
	customers := make(map[string]int64, len(r.Customers))
	for _, c := range r.Customers {
		customers[c.Restaurant] = c.Count
	}
	for _, v := range r.Revenue {
		grouped.Row(v.Restaurant, money(v.Value), money(aov[v.Restaurant]), count(customers[v.Restaurant]))
	}
	section("By restaurant", grouped.String())

	foods := newTable("Food", "Revenue")
	for _, f := range r.TopFoods {
		foods.Row(f.Food, money(f.Revenue))
	}
	section(fmt.Sprintf("Top %d foods by revenue", len(r.TopFoods)), foods.String())

	_, err := io.WriteString(w, b.String())
	return err
}
