// Package bistro wires the generator, loader, aggregator, report and
// dashboard into one pipeline: generate a CSV, load it into the
// restaurant_transactions table, then answer questions about it.
package bistro

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TFMV/bistro/config"
	"github.com/TFMV/bistro/dashboard"
	"github.com/TFMV/bistro/db"
	"github.com/TFMV/bistro/flight"
	"github.com/TFMV/bistro/generator"
	"github.com/TFMV/bistro/loader"
	"github.com/TFMV/bistro/query"
	"github.com/TFMV/bistro/report"
	"github.com/TFMV/bistro/storage"
	"go.uber.org/zap"
)

// NewLogger builds a production JSON logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// Pipeline runs the stages against one configuration. Every stage opens and
// closes its own storage handle.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger
	opener *storage.Opener
}

func New(cfg *config.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		opener: storage.NewOpener(storage.Options{
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
		}, logger.Named("storage")),
	}
}

func (p *Pipeline) reportOptions() report.Options {
	return report.Options{
		Universe:   p.cfg.Universe,
		ExplorersK: p.cfg.ExplorersK,
		TopFoodsK:  p.cfg.TopFoodsK,
	}
}

func (p *Pipeline) openDB(ctx context.Context) (*db.DB, error) {
	return db.Open(ctx, p.cfg.DB(), p.logger.Named("db"))
}

// Generate writes cfg.Rows synthetic transactions to cfg.Source.
func (p *Pipeline) Generate(ctx context.Context) (*generator.Result, error) {
	g, err := generator.New(generator.Config{
		Rows: p.cfg.Rows,
		Seed: p.cfg.Seed,
	}, p.opener, p.logger.Named("generator"))
	if err != nil {
		return nil, err
	}
	return g.GenerateFile(ctx, p.cfg.Source)
}

// Load replaces the table with the contents of cfg.Source.
func (p *Pipeline) Load(ctx context.Context) (*loader.Result, error) {
	store, err := p.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return p.load(ctx, store)
}

func (p *Pipeline) load(ctx context.Context, store *db.DB) (*loader.Result, error) {
	return loader.New(store, p.opener, p.logger.Named("loader")).Load(ctx, p.cfg.Source)
}

// Report answers the question set with SQL and renders it to w.
func (p *Pipeline) Report(ctx context.Context, w io.Writer) (*report.Report, error) {
	store, err := p.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return p.report(ctx, store, w)
}

func (p *Pipeline) report(ctx context.Context, store *db.DB, w io.Writer) (*report.Report, error) {
	r, err := report.Build(ctx, query.NewSQLEngine(store, p.logger.Named("query")), p.reportOptions())
	if err != nil {
		return nil, err
	}
	if err := report.Render(w, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Run generates, loads and reports in order. Load and report share one
// storage handle, so an in-memory database survives between them.
func (p *Pipeline) Run(ctx context.Context, w io.Writer) error {
	if _, err := p.Generate(ctx); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	store, err := p.openDB(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := p.load(ctx, store); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if _, err := p.report(ctx, store, w); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Export saves a snapshot of the table to cfg.Snapshot.
func (p *Pipeline) Export(ctx context.Context) error {
	store, err := p.openDB(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	defer snap.Release()
	return p.opener.SaveSnapshot(ctx, p.cfg.Snapshot, snap.Record())
}

// Session opens a dashboard session. It prefers the exported snapshot at
// cfg.Snapshot and falls back to reading the table.
func (p *Pipeline) Session(ctx context.Context) (*dashboard.Session, error) {
	snap, err := p.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return dashboard.NewSession(snap, p.reportOptions(), dashboard.DefaultCacheSize, p.logger.Named("dashboard")), nil
}

func (p *Pipeline) loadSnapshot(ctx context.Context) (*db.Snapshot, error) {
	if p.cfg.Snapshot != "" {
		rec, err := p.opener.LoadSnapshot(ctx, p.cfg.Snapshot)
		if err == nil {
			defer rec.Release()
			return db.NewSnapshot(rec)
		}
		var missing *db.MissingInputError
		if !errors.As(err, &missing) {
			return nil, err
		}
		p.logger.Info("No exported snapshot, reading the table", zap.String("snapshot", p.cfg.Snapshot))
	}

	store, err := p.openDB(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Snapshot(ctx)
}

// Serve runs the dashboard HTTP API and the Flight service until ctx is
// cancelled or either fails.
func (p *Pipeline) Serve(ctx context.Context) error {
	session, err := p.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	flightServer, err := flight.Listen(p.cfg.FlightAddr, flight.NewService(session, p.logger.Named("flight")))
	if err != nil {
		return fmt.Errorf("failed to bind flight service: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- dashboard.NewServer(session, p.logger.Named("http")).ListenAndServe(ctx, p.cfg.HTTPAddr)
	}()
	go func() {
		errCh <- flightServer.Serve(ctx)
	}()

	// The first exit stops the other server.
	first := <-errCh
	cancel()
	second := <-errCh
	return errors.Join(first, second)
}
