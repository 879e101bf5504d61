// Package dashboard serves the filtered, interactive view of the data: every
// chart and metric recomputed for a restaurant selector.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/query"
	"github.com/TFMV/bistro/report"
	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
)

// View names accepted by Session.View.
const (
	ViewSummary           = "summary"
	ViewRevenue           = "revenue"
	ViewAOV               = "aov"
	ViewCustomers         = "customers"
	ViewTopFoods          = "top-foods"
	ViewPopularDishes     = "popular-dishes"
	ViewProfitableDishes  = "profitable-dishes"
	ViewFrequentCustomers = "frequent-customers"
	ViewExplorers         = "explorers"
	ViewQuestions         = "questions"
)

// DefaultCacheSize bounds the number of memoised views.
const DefaultCacheSize = 256

var (
	ErrUnknownView       = errors.New("unknown view")
	ErrUnknownRestaurant = errors.New("unknown restaurant")
)

type viewKey struct {
	view       string
	restaurant string
	k          int
}

// Session is one dashboard lifetime: a snapshot taken once at start and the
// views computed from it. The snapshot is never refreshed.
type Session struct {
	engine  *query.SnapshotEngine
	options report.Options
	logger  *zap.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

// NewSession takes ownership of snap; Close releases it.
func NewSession(snap *db.Snapshot, opts report.Options, cacheSize int, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Session{
		engine:  query.NewSnapshotEngine(snap),
		options: opts,
		logger:  logger,
		cache:   lru.New(cacheSize),
	}
}

func (s *Session) Close() {
	s.engine.Snapshot().Release()
}

// Engine exposes the session's aggregate engine.
func (s *Session) Engine() *query.SnapshotEngine {
	return s.engine
}

// Restaurants lists the selector values.
func (s *Session) Restaurants() []string {
	return s.engine.Snapshot().Restaurants()
}

// CheckRestaurant fails with ErrUnknownRestaurant for a non-empty name absent from the snapshot.
func (s *Session) CheckRestaurant(name string) error {
	if name != "" && !s.engine.Snapshot().HasRestaurant(name) {
		return fmt.Errorf("%w: %q", ErrUnknownRestaurant, name)
	}
	return nil
}

// View computes, or returns the memoised copy of, the named view for f.
// k applies to top-foods and explorers only; k <= 0 selects the default.
func (s *Session) View(ctx context.Context, view string, f query.Filter, k int) (any, error) {
	if err := s.CheckRestaurant(f.Restaurant); err != nil {
		return nil, err
	}
	if k < 0 {
		k = 0
	}
	switch view {
	case ViewTopFoods, ViewExplorers:
	default:
		k = 0
	}
	key := viewKey{view: view, restaurant: f.Restaurant, k: k}

	s.mu.Lock()
	cached, ok := s.cache.Get(key)
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	value, err := s.compute(ctx, view, f, k)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.Add(key, value)
	s.mu.Unlock()
	s.logger.Debug("Computed view", zap.String("view", view), zap.String("restaurant", f.Restaurant), zap.Int("k", k))
	return value, nil
}

func (s *Session) compute(ctx context.Context, view string, f query.Filter, k int) (any, error) {
	e := s.engine
	switch view {
	case ViewSummary:
		return e.Summary(ctx, f)
	case ViewRevenue:
		return e.RevenueByRestaurant(ctx, f)
	case ViewAOV:
		return e.AverageOrderValueByRestaurant(ctx, f)
	case ViewCustomers:
		return e.CustomersByRestaurant(ctx, f)
	case ViewTopFoods:
		return e.TopFoodsByRevenue(ctx, f, k)
	case ViewPopularDishes:
		dishes, err := e.MostPopularDishes(ctx)
		return onlyRestaurant(dishes, f, func(d query.DishCount) string { return d.Restaurant }), err
	case ViewProfitableDishes:
		dishes, err := e.MostProfitableDishes(ctx)
		return onlyRestaurant(dishes, f, func(d query.DishRevenue) string { return d.Restaurant }), err
	case ViewFrequentCustomers:
		customers, err := e.MostFrequentCustomers(ctx)
		return onlyRestaurant(customers, f, func(c query.CustomerVisits) string { return c.Restaurant }), err
	case ViewExplorers:
		return e.TopExplorers(ctx, k)
	case ViewQuestions:
		return report.Build(ctx, e, s.options)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
}

// onlyRestaurant narrows per-restaurant answers to the selected restaurant.
func onlyRestaurant[T any](items []T, f query.Filter, restaurant func(T) string) []T {
	if f.Restaurant == "" {
		return items
	}
	out := make([]T, 0, 1)
	for _, item := range items {
		if restaurant(item) == f.Restaurant {
			out = append(out, item)
		}
	}
	return out
}
