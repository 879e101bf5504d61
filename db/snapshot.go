package db

import (
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/TFMV/bistro/index"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Snapshot is an immutable, in-memory copy of the restaurant_transactions
// table together with secondary indexes on the three grouping columns.
// It is built once per session and shared read-only by every query.
type Snapshot struct {
	record  arrow.Record
	indexes *index.IndexManager
	all     *roaring.Bitmap
	takenAt time.Time

	restaurants *array.String
	foods       *array.String
	customers   *array.String
	costs       *array.Float64
}

// NewSnapshot indexes rec. The snapshot retains rec; callers keep their own reference.
func NewSnapshot(rec arrow.Record) (*Snapshot, error) {
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}
	if rec.NumRows() > math.MaxUint32 {
		return nil, fmt.Errorf("snapshot too large: %d rows", rec.NumRows())
	}
	rec.Retain()

	s := &Snapshot{
		record:      rec,
		indexes:     index.NewIndexManager(index.DefaultSettings()),
		all:         roaring.New(),
		takenAt:     time.Now(),
		restaurants: rec.Column(ColRestaurant).(*array.String),
		foods:       rec.Column(ColFood).(*array.String),
		customers:   rec.Column(ColCustomer).(*array.String),
		costs:       rec.Column(ColCost).(*array.Float64),
	}
	if err := s.buildIndexes(); err != nil {
		rec.Release()
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) buildIndexes() error {
	n := uint32(s.record.NumRows())
	s.all.AddRange(0, uint64(n))

	restaurantIdx, err := s.indexes.CreateIndex("restaurant_name", index.RoaringBitmap)
	if err != nil {
		return err
	}
	foodIdx, err := s.indexes.CreateIndex("food_name", index.RoaringBitmap)
	if err != nil {
		return err
	}
	customerIdx, err := s.indexes.CreateIndex("customer_name", index.HashIndex)
	if err != nil {
		return err
	}
	customerFilter, err := s.indexes.CreateIndex("customer_name", index.Bloom)
	if err != nil {
		return err
	}

	for i := uint32(0); i < n; i++ {
		row := int(i)
		if err := restaurantIdx.Add(i, s.restaurants.Value(row)); err != nil {
			return err
		}
		if err := foodIdx.Add(i, s.foods.Value(row)); err != nil {
			return err
		}
		customer := s.customers.Value(row)
		if err := customerIdx.Add(i, customer); err != nil {
			return err
		}
		if err := customerFilter.Add(i, customer); err != nil {
			return err
		}
	}
	return nil
}

// Release drops the snapshot's reference to its record and empties its indexes.
func (s *Snapshot) Release() {
	s.indexes.Clear()
	s.all.Clear()
	s.record.Release()
}

// Record exposes the underlying Arrow record. Callers must not release it.
func (s *Snapshot) Record() arrow.Record {
	return s.record
}

// NumRows returns the number of transactions in the snapshot.
func (s *Snapshot) NumRows() int {
	return int(s.record.NumRows())
}

// TakenAt is when the snapshot was built.
func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Indexes exposes the snapshot's secondary indexes.
func (s *Snapshot) Indexes() *index.IndexManager {
	return s.indexes
}

// Cardinalities reports the number of distinct values in each indexed column.
func (s *Snapshot) Cardinalities() map[string]int {
	return s.indexes.Cardinalities()
}

// Restaurants returns the distinct restaurant names in ascending order.
func (s *Snapshot) Restaurants() []string {
	values, _ := s.indexes.Values("restaurant_name")
	return values
}

// HasRestaurant reports whether any transaction belongs to name.
func (s *Snapshot) HasRestaurant(name string) bool {
	rows, err := s.indexes.Lookup("restaurant_name", name)
	return err == nil && !rows.IsEmpty()
}

// Rows returns the row positions for a restaurant; the empty name selects every row.
// The returned bitmap belongs to the caller.
func (s *Snapshot) Rows(restaurant string) (*roaring.Bitmap, error) {
	if restaurant == "" {
		return s.all.Clone(), nil
	}
	return s.indexes.Lookup("restaurant_name", restaurant)
}

// CustomerRows returns the row positions of every visit by customer.
func (s *Snapshot) CustomerRows(customer string) (*roaring.Bitmap, error) {
	return s.indexes.Lookup("customer_name", customer)
}

func (s *Snapshot) Restaurant(row uint32) string { return s.restaurants.Value(int(row)) }

func (s *Snapshot) Food(row uint32) string { return s.foods.Value(int(row)) }

func (s *Snapshot) Customer(row uint32) string { return s.customers.Value(int(row)) }

func (s *Snapshot) Cost(row uint32) float64 { return s.costs.Value(int(row)) }

// Transaction decodes one row.
func (s *Snapshot) Transaction(row uint32) Transaction {
	return TransactionAt(s.record, int(row))
}
