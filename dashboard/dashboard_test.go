package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/query"
	"github.com/TFMV/bistro/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	at := time.Unix(0, 0).UTC()
	rec := db.BuildRecord([]db.Transaction{
		{ID: 1, RestaurantName: "A", FoodName: "pizza", CustomerName: "alice", FoodCost: 5, CreatedAt: at},
		{ID: 2, RestaurantName: "A", FoodName: "pizza", CustomerName: "bob", FoodCost: 5, CreatedAt: at},
		{ID: 3, RestaurantName: "A", FoodName: "soda", CustomerName: "alice", FoodCost: 2, CreatedAt: at},
		{ID: 4, RestaurantName: "B", FoodName: "tea", CustomerName: "carol", FoodCost: 1.5, CreatedAt: at},
	})
	defer rec.Release()
	snap, err := db.NewSnapshot(rec)
	require.NoError(t, err)

	opts := report.DefaultOptions()
	opts.Universe = "A"
	s := NewSession(snap, opts, 8, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func get(t *testing.T, h http.Handler, url string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func TestRestaurants(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	var names []string
	assert.Equal(t, http.StatusOK, get(t, h, "/api/restaurants", &names))
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestSummaryFilter(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	var all query.Summary
	require.Equal(t, http.StatusOK, get(t, h, "/api/summary", &all))
	assert.Equal(t, int64(4), all.Transactions)
	assert.Equal(t, 13.5, all.Revenue)

	var onlyA query.Summary
	require.Equal(t, http.StatusOK, get(t, h, "/api/summary?restaurant=A", &onlyA))
	assert.Equal(t, int64(2), onlyA.DistinctCustomers)
	assert.Equal(t, 12.0, onlyA.Revenue)
	require.NotNil(t, onlyA.AverageOrderValue)
	assert.Equal(t, 4.0, *onlyA.AverageOrderValue)
}

func TestCharts(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	var revenue []query.RestaurantValue
	require.Equal(t, http.StatusOK, get(t, h, "/api/charts/revenue", &revenue))
	assert.Equal(t, []query.RestaurantValue{{Restaurant: "A", Value: 12}, {Restaurant: "B", Value: 1.5}}, revenue)

	var customers []query.RestaurantCount
	require.Equal(t, http.StatusOK, get(t, h, "/api/charts/customers?restaurant=B", &customers))
	assert.Equal(t, []query.RestaurantCount{{Restaurant: "B", Count: 1}}, customers)

	var foods []query.FoodRevenue
	require.Equal(t, http.StatusOK, get(t, h, "/api/charts/top-foods?k=1", &foods))
	assert.Equal(t, []query.FoodRevenue{{Food: "pizza", Revenue: 10}}, foods)

	var popular []query.DishCount
	require.Equal(t, http.StatusOK, get(t, h, "/api/charts/popular-dishes?restaurant=B", &popular))
	assert.Equal(t, []query.DishCount{{Restaurant: "B", Food: "tea", Orders: 1}}, popular)
}

func TestQuestions(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	var r report.Report
	require.Equal(t, http.StatusOK, get(t, h, "/api/questions", &r))
	assert.Equal(t, "A", r.Universe.Restaurant)
	assert.Equal(t, int64(2), r.Universe.DistinctCustomers)
	assert.Len(t, r.FrequentCustomers, 2)
}

func TestBadRequests(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/summary?restaurant=Z", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/charts/top-foods?k=abc", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/charts/top-foods?k=0", nil))
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics", nil))
}

func TestHealth(t *testing.T) {
	h := NewServer(newTestSession(t), nil).Handler()

	var health struct {
		Status   string         `json:"status"`
		Rows     int            `json:"rows"`
		Distinct map[string]int `json:"distinct"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 4, health.Rows)
	assert.Equal(t, map[string]int{"restaurant_name": 2, "food_name": 3, "customer_name": 3}, health.Distinct)
}

func TestViewCache(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	first, err := s.View(ctx, ViewRevenue, query.Filter{}, 0)
	require.NoError(t, err)
	second, err := s.View(ctx, ViewRevenue, query.Filter{}, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.cache.Len())

	_, err = s.View(ctx, ViewTopFoods, query.Filter{Restaurant: "A"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.cache.Len())

	_, err = s.View(ctx, "pie", query.Filter{}, 0)
	assert.True(t, errors.Is(err, ErrUnknownView))
	assert.Equal(t, 2, s.cache.Len())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv := NewServer(newTestSession(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
