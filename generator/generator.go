// Package generator fabricates restaurant transactions as delimited text.
package generator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/TFMV/bistro/storage"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"
)

// Universe is the restaurant the per-restaurant deep dive reports on.
const Universe = "the-restaurant-at-the-end-of-the-universe"

var Restaurants = []string{
	Universe,
	"johnnys-cashew-stand",
	"bean-juice-stand",
	"the-ice-cream-parlor",
}

var Foods = []string{
	"beans", "cashews", "chips", "chocolate", "coffee", "cookies", "corn", "candy", "cereal", "chicken",
	"cheese", "eggs", "fish", "fruit", "grains", "honey", "ice cream", "juice", "milk", "meat", "nuts", "oil",
	"pasta", "rice", "salad", "sandwiches", "soup", "spices", "sugar", "tea", "vegetables", "water", "wine",
	"yogurt",
}

// Prices runs from 1.00 to 9.00 in steps of 0.50.
var Prices = []float64{
	1.00, 1.50, 2.00, 2.50, 3.00, 3.50, 4.00, 4.50, 5.00,
	5.50, 6.00, 6.50, 7.00, 7.50, 8.00, 8.50, 9.00,
}

// Header names the four output columns, in order.
var Header = []string{"restaurant_names", "food_names", "first_name", "food_cost"}

// csvSchema is the layout of one generated batch; its field names become the header.
var csvSchema = arrow.NewSchema([]arrow.Field{
	{Name: Header[0], Type: arrow.BinaryTypes.String},
	{Name: Header[1], Type: arrow.BinaryTypes.String},
	{Name: Header[2], Type: arrow.BinaryTypes.String},
	{Name: Header[3], Type: arrow.PrimitiveTypes.Float64},
}, nil)

type Config struct {
	// Rows is the number of records to write, excluding the header.
	Rows int
	// Seed makes output reproducible; zero draws a random seed.
	Seed int64
	// BatchSize is the number of records encoded per Arrow batch.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Rows:      150000,
		BatchSize: 4096,
	}
}

// Result describes a finished run.
type Result struct {
	Rows        int
	Destination string
	Elapsed     time.Duration
}

type Generator struct {
	cfg    Config
	opener *storage.Opener
	logger *zap.Logger
	mem    memory.Allocator
}

func New(cfg Config, opener *storage.Opener, logger *zap.Logger) (*Generator, error) {
	if cfg.Rows < 0 {
		return nil, fmt.Errorf("rows must not be negative, got %d", cfg.Rows)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = storage.NewOpener(storage.Options{}, logger)
	}
	return &Generator{cfg: cfg, opener: opener, logger: logger, mem: memory.NewGoAllocator()}, nil
}

// Generate writes the header and cfg.Rows records to w. Cancellation is
// observed between batches.
func (g *Generator) Generate(ctx context.Context, w io.Writer) (*Result, error) {
	start := time.Now()
	faker := gofakeit.New(uint64(g.cfg.Seed))
	writer := csv.NewWriter(w, csvSchema, csv.WithComma(','), csv.WithHeader(true))

	b := array.NewRecordBuilder(g.mem, csvSchema)
	defer b.Release()
	restaurants := b.Field(0).(*array.StringBuilder)
	foods := b.Field(1).(*array.StringBuilder)
	names := b.Field(2).(*array.StringBuilder)
	costs := b.Field(3).(*array.Float64Builder)

	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(g.cfg.BatchSize, g.cfg.Rows-written)
		b.Reserve(n)
		for i := 0; i < n; i++ {
			restaurants.Append(faker.RandomString(Restaurants))
			foods.Append(faker.RandomString(Foods))
			names.Append(faker.FirstName())
			costs.Append(Prices[faker.Number(0, len(Prices)-1)])
		}

		// The first batch is written even when empty so the header always appears.
		rec := b.NewRecord()
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to write batch: %w", err)
		}
		written += n
		if written >= g.cfg.Rows {
			break
		}
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush output: %w", err)
	}

	res := &Result{Rows: written, Elapsed: time.Since(start)}
	g.logger.Info("Generated transactions",
		zap.Int("rows", written),
		zap.Int64("seed", g.cfg.Seed),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// GenerateFile writes to a local path or gs://bucket/object.
func (g *Generator) GenerateFile(ctx context.Context, uri string) (*Result, error) {
	out, err := g.opener.CreateWriter(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q: %w", uri, err)
	}
	res, err := g.Generate(ctx, out)
	if err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %q: %w", uri, err)
	}
	res.Destination = uri
	return res, nil
}
