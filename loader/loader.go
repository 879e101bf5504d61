// Package loader ingests generator output into the restaurant_transactions table.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/generator"
	"github.com/TFMV/bistro/storage"
	"go.uber.org/zap"
)

// Columns is the number of fields every input line must carry.
const Columns = 4

type Result struct {
	Rows    int64
	Source  string
	Elapsed time.Duration
}

// Loader reads delimited input and replaces the table contents with it.
type Loader struct {
	db     *db.DB
	opener *storage.Opener
	logger *zap.Logger
	now    func() time.Time
}

func New(store *db.DB, opener *storage.Opener, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = storage.NewOpener(storage.Options{}, logger)
	}
	return &Loader{db: store, opener: opener, logger: logger, now: time.Now}
}

// Load reads source (a local path or gs:// URI), assigns ids 1..N in file
// order, replaces the table and rebuilds its indexes. Header names are
// ignored; columns map positionally onto restaurant_name, food_name,
// customer_name and food_cost. food_cost must be one of generator.Prices.
func (l *Loader) Load(ctx context.Context, source string) (*Result, error) {
	start := time.Now()

	in, err := l.opener.OpenReader(ctx, source)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, &db.MissingInputError{Path: source, Err: err}
		}
		return nil, fmt.Errorf("failed to open %q: %w", source, err)
	}
	defer in.Close()

	rb := db.NewRecordBuilder(db.Pool)
	defer rb.Release()

	n, err := l.parse(ctx, in, rb)
	if err != nil {
		return nil, err
	}

	rec := rb.NewRecord()
	defer rec.Release()

	if _, err := l.db.ReplaceTransactions(ctx, rec); err != nil {
		return nil, err
	}
	if err := l.db.CreateIndexes(ctx); err != nil {
		return nil, err
	}

	res := &Result{Rows: n, Source: source, Elapsed: time.Since(start)}
	l.logger.Info("Loaded transactions",
		zap.String("source", source),
		zap.Int64("rows", n),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// parse validates every line and appends data rows to rb.
func (l *Loader) parse(ctx context.Context, in io.Reader, rb *db.RecordBuilder) (int64, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	createdAt := l.now().UTC().Truncate(time.Microsecond)

	var id int64
	header := true
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return 0, &db.SchemaMismatchError{Line: pe.Line, Reason: pe.Err.Error()}
			}
			return 0, fmt.Errorf("failed to read input: %w", err)
		}
		line, _ := r.FieldPos(0)
		if len(fields) != Columns {
			return 0, &db.SchemaMismatchError{Line: line, Got: len(fields), Want: Columns}
		}
		if header {
			header = false
			continue
		}

		cost, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return 0, &db.SchemaMismatchError{Line: line, Reason: fmt.Sprintf("food_cost %q is not a number", fields[3])}
		}
		if !slices.Contains(generator.Prices, cost) {
			return 0, &db.SchemaMismatchError{Line: line, Reason: fmt.Sprintf("food_cost %q is not a listed price", fields[3])}
		}
		id++
		rb.Append(db.Transaction{
			ID:             id,
			RestaurantName: fields[0],
			FoodName:       fields[1],
			CustomerName:   fields[2],
			FoodCost:       cost,
			CreatedAt:      createdAt,
		})

		if id%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
	}
	if header {
		return 0, &db.SchemaMismatchError{Line: 1, Want: Columns, Reason: "input is empty, expected a header"}
	}
	return id, nil
}
