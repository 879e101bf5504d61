package flight

import (
	"fmt"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/query"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	summarySchema = arrow.NewSchema([]arrow.Field{
		{Name: "distinct_customers", Type: arrow.PrimitiveTypes.Int64},
		{Name: "revenue", Type: arrow.PrimitiveTypes.Float64},
		{Name: "transactions", Type: arrow.PrimitiveTypes.Int64},
		{Name: "average_order_value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	restaurantValueSchema = arrow.NewSchema([]arrow.Field{
		{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	restaurantCountSchema = arrow.NewSchema([]arrow.Field{
		{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
		{Name: "customers", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	foodRevenueSchema = arrow.NewSchema([]arrow.Field{
		{Name: "food_name", Type: arrow.BinaryTypes.String},
		{Name: "revenue", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	dishCountSchema = arrow.NewSchema([]arrow.Field{
		{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
		{Name: "food_name", Type: arrow.BinaryTypes.String},
		{Name: "orders", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	dishRevenueSchema = arrow.NewSchema([]arrow.Field{
		{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
		{Name: "food_name", Type: arrow.BinaryTypes.String},
		{Name: "revenue", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	customerVisitsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "restaurant_name", Type: arrow.BinaryTypes.String},
		{Name: "customer_name", Type: arrow.BinaryTypes.String},
		{Name: "visits", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	explorerSchema = arrow.NewSchema([]arrow.Field{
		{Name: "customer_name", Type: arrow.BinaryTypes.String},
		{Name: "restaurants", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
)

// toRecord converts a computed view into a single Arrow record.
func toRecord(mem memory.Allocator, value any) (arrow.Record, error) {
	switch v := value.(type) {
	case query.Summary:
		b := array.NewRecordBuilder(mem, summarySchema)
		defer b.Release()
		b.Field(0).(*array.Int64Builder).Append(v.DistinctCustomers)
		b.Field(1).(*array.Float64Builder).Append(v.Revenue)
		b.Field(2).(*array.Int64Builder).Append(v.Transactions)
		mean := b.Field(3).(*array.Float64Builder)
		if v.AverageOrderValue != nil {
			mean.Append(*v.AverageOrderValue)
		} else {
			mean.AppendNull()
		}
		return b.NewRecord(), nil

	case []query.RestaurantValue:
		b := array.NewRecordBuilder(mem, restaurantValueSchema)
		defer b.Release()
		for _, r := range v {
			b.Field(0).(*array.StringBuilder).Append(r.Restaurant)
			b.Field(1).(*array.Float64Builder).Append(r.Value)
		}
		return b.NewRecord(), nil

	case []query.RestaurantCount:
		b := array.NewRecordBuilder(mem, restaurantCountSchema)
		defer b.Release()
		for _, r := range v {
			b.Field(0).(*array.StringBuilder).Append(r.Restaurant)
			b.Field(1).(*array.Int64Builder).Append(r.Count)
		}
		return b.NewRecord(), nil

	case []query.FoodRevenue:
		b := array.NewRecordBuilder(mem, foodRevenueSchema)
		defer b.Release()
		for _, f := range v {
			b.Field(0).(*array.StringBuilder).Append(f.Food)
			b.Field(1).(*array.Float64Builder).Append(f.Revenue)
		}
		return b.NewRecord(), nil

	case []query.DishCount:
		b := array.NewRecordBuilder(mem, dishCountSchema)
		defer b.Release()
		for _, d := range v {
			b.Field(0).(*array.StringBuilder).Append(d.Restaurant)
			b.Field(1).(*array.StringBuilder).Append(d.Food)
			b.Field(2).(*array.Int64Builder).Append(d.Orders)
		}
		return b.NewRecord(), nil

	case []query.DishRevenue:
		b := array.NewRecordBuilder(mem, dishRevenueSchema)
		defer b.Release()
		for _, d := range v {
			b.Field(0).(*array.StringBuilder).Append(d.Restaurant)
			b.Field(1).(*array.StringBuilder).Append(d.Food)
			b.Field(2).(*array.Float64Builder).Append(d.Revenue)
		}
		return b.NewRecord(), nil

	case []query.CustomerVisits:
		b := array.NewRecordBuilder(mem, customerVisitsSchema)
		defer b.Release()
		for _, c := range v {
			b.Field(0).(*array.StringBuilder).Append(c.Restaurant)
			b.Field(1).(*array.StringBuilder).Append(c.Customer)
			b.Field(2).(*array.Int64Builder).Append(c.Visits)
		}
		return b.NewRecord(), nil

	case []query.Explorer:
		b := array.NewRecordBuilder(mem, explorerSchema)
		defer b.Release()
		for _, x := range v {
			b.Field(0).(*array.StringBuilder).Append(x.Customer)
			b.Field(1).(*array.Int64Builder).Append(x.Restaurants)
		}
		return b.NewRecord(), nil
	}
	return nil, fmt.Errorf("view result %T has no tabular form", value)
}

// transactions copies the snapshot rows selected by restaurant into a new record.
func transactions(mem memory.Allocator, snap *db.Snapshot, restaurant string) (arrow.Record, error) {
	rows, err := snap.Rows(restaurant)
	if err != nil {
		return nil, err
	}
	rb := db.NewRecordBuilder(mem)
	defer rb.Release()
	rb.Reserve(int(rows.GetCardinality()))

	it := rows.Iterator()
	for it.HasNext() {
		rb.Append(snap.Transaction(it.Next()))
	}
	return rb.NewRecord(), nil
}
