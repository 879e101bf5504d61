package db

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TableName is the single table every component reads or writes.
const TableName = "restaurant_transactions"

// Column positions within Schema.
const (
	ColID = iota
	ColRestaurant
	ColFood
	ColCustomer
	ColCost
	ColCreatedAt
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// Schema defines the Arrow layout of the restaurant_transactions table.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
	{Name: "food_name", Type: arrow.BinaryTypes.String},
	{Name: "customer_name", Type: arrow.BinaryTypes.String},
	{Name: "food_cost", Type: arrow.PrimitiveTypes.Float64},
	{Name: "created_at", Type: &arrow.TimestampType{Unit: arrow.Microsecond}},
}, nil)

const createTableSQL = `
CREATE TABLE restaurant_transactions (
    id              BIGINT PRIMARY KEY,
    restaurant_name VARCHAR NOT NULL,
    food_name       VARCHAR NOT NULL,
    customer_name   VARCHAR NOT NULL,
    food_cost       DOUBLE NOT NULL,
    created_at      TIMESTAMP NOT NULL
)`

const dropTableSQL = `DROP TABLE IF EXISTS restaurant_transactions`

// Indexes lists the secondary indexes built after every load, keyed by name.
var Indexes = []struct {
	Name   string
	Column string
}{
	{Name: "idx_restaurant", Column: "restaurant_name"},
	{Name: "idx_food", Column: "food_name"},
	{Name: "idx_customer", Column: "customer_name"},
}

// Transaction is one fabricated purchase record.
type Transaction struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	RestaurantName string    `gorm:"column:restaurant_name;not null" json:"restaurant_name"`
	FoodName       string    `gorm:"column:food_name;not null" json:"food_name"`
	CustomerName   string    `gorm:"column:customer_name;not null" json:"customer_name"`
	FoodCost       float64   `gorm:"column:food_cost;not null" json:"food_cost"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName tells gorm which table Transaction rows live in.
func (Transaction) TableName() string {
	return TableName
}

// RecordBuilder accumulates Transactions into an Arrow record with Schema.
type RecordBuilder struct {
	b *array.RecordBuilder
}

// NewRecordBuilder creates a builder backed by mem (Pool when nil).
func NewRecordBuilder(mem memory.Allocator) *RecordBuilder {
	if mem == nil {
		mem = Pool
	}
	return &RecordBuilder{b: array.NewRecordBuilder(mem, Schema)}
}

// Reserve preallocates room for n more rows.
func (rb *RecordBuilder) Reserve(n int) {
	rb.b.Reserve(n)
}

// Append adds one transaction.
func (rb *RecordBuilder) Append(t Transaction) {
	rb.b.Field(ColID).(*array.Int64Builder).Append(t.ID)
	rb.b.Field(ColRestaurant).(*array.StringBuilder).Append(t.RestaurantName)
	rb.b.Field(ColFood).(*array.StringBuilder).Append(t.FoodName)
	rb.b.Field(ColCustomer).(*array.StringBuilder).Append(t.CustomerName)
	rb.b.Field(ColCost).(*array.Float64Builder).Append(t.FoodCost)
	rb.b.Field(ColCreatedAt).(*array.TimestampBuilder).Append(arrow.Timestamp(t.CreatedAt.UnixMicro()))
}

// NewRecord returns the accumulated rows and resets the builder.
func (rb *RecordBuilder) NewRecord() arrow.Record {
	return rb.b.NewRecord()
}

// Release frees the builder's buffers.
func (rb *RecordBuilder) Release() {
	rb.b.Release()
}

// BuildRecord is a convenience for turning a slice of transactions into a record.
func BuildRecord(txns []Transaction) arrow.Record {
	rb := NewRecordBuilder(nil)
	defer rb.Release()
	rb.Reserve(len(txns))
	for _, t := range txns {
		rb.Append(t)
	}
	return rb.NewRecord()
}

// ValidateRecord checks that rec carries the restaurant_transactions layout.
func ValidateRecord(rec arrow.Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	if !rec.Schema().Equal(Schema) {
		return fmt.Errorf("record schema %s does not match %s", rec.Schema(), Schema)
	}
	return nil
}

// TransactionAt decodes row i of a record with Schema.
func TransactionAt(rec arrow.Record, i int) Transaction {
	ts := rec.Column(ColCreatedAt).(*array.Timestamp).Value(i)
	return Transaction{
		ID:             rec.Column(ColID).(*array.Int64).Value(i),
		RestaurantName: rec.Column(ColRestaurant).(*array.String).Value(i),
		FoodName:       rec.Column(ColFood).(*array.String).Value(i),
		CustomerName:   rec.Column(ColCustomer).(*array.String).Value(i),
		FoodCost:       rec.Column(ColCost).(*array.Float64).Value(i),
		CreatedAt:      ts.ToTime(arrow.Microsecond),
	}
}

// TransactionsFromRecord decodes every row of rec.
func TransactionsFromRecord(rec arrow.Record) []Transaction {
	n := int(rec.NumRows())
	out := make([]Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = TransactionAt(rec, i)
	}
	return out
}
