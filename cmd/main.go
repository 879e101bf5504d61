package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/TFMV/bistro"
	"github.com/TFMV/bistro/config"
	"github.com/docopt/docopt.go"
	"go.uber.org/zap"
)

const usage = `bistro: restaurant transaction analytics.

Usage:
  bistro generate [options]
  bistro load [options]
  bistro report [options]
  bistro run [options]
  bistro export [options]
  bistro serve [options]
  bistro (-h | --help)
  bistro --version

Options:
  -h --help                Show this screen.
  --version                Show version.
  --config=<path>          Config file (YAML, JSON or TOML).
  --rows=<n>               Number of transactions to generate.
  --seed=<n>               Generator seed; 0 picks a random one.
  --source=<uri>           CSV path or gs://bucket/object.
  --driver=<name>          Storage engine: duckdb or sqlite.
  --db=<path>              Database file, or :memory: (kept only within one run).
  --universe=<name>        Restaurant for the deep-dive metrics.
  --explorers=<k>          Number of top explorers to report.
  --top-foods=<k>          Number of top foods by revenue to report.
  --snapshot=<uri>         Arrow snapshot path or gs://bucket/object.
  --http-addr=<addr>       Dashboard listen address.
  --flight-addr=<addr>     Flight listen address.
  --log-level=<level>      debug, info, warn or error.
`

const version = "bistro version 1.0.0"

func main() {
	arguments, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	path, _ := arguments.String("--config")
	cfg, err := config.InitConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(arguments, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := bistro.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, arguments, bistro.New(cfg, logger), logger); err != nil {
		logger.Error("Command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, arguments docopt.Opts, p *bistro.Pipeline, logger *zap.Logger) error {
	is := func(cmd string) bool {
		v, _ := arguments.Bool(cmd)
		return v
	}

	switch {
	case is("generate"):
		res, err := p.Generate(ctx)
		if err != nil {
			return err
		}
		logger.Info("Generate complete", zap.String("destination", res.Destination), zap.Int("rows", res.Rows))
	case is("load"):
		res, err := p.Load(ctx)
		if err != nil {
			return err
		}
		logger.Info("Load complete", zap.String("source", res.Source), zap.Int64("rows", res.Rows))
	case is("report"):
		_, err := p.Report(ctx, os.Stdout)
		return err
	case is("run"):
		return p.Run(ctx, os.Stdout)
	case is("export"):
		return p.Export(ctx)
	case is("serve"):
		return p.Serve(ctx)
	}
	return nil
}

// applyFlags overrides configuration with any flag given on the command line.
func applyFlags(arguments docopt.Opts, cfg *config.Config) error {
	str := func(flag string, dst *string) {
		if v, err := arguments.String(flag); err == nil && v != "" {
			*dst = v
		}
	}
	num := func(flag string, dst *int) error {
		v, err := arguments.String(flag)
		if err != nil || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", flag, err)
		}
		*dst = n
		return nil
	}

	str("--source", &cfg.Source)
	str("--driver", &cfg.Database.Driver)
	str("--db", &cfg.Database.Path)
	str("--universe", &cfg.Universe)
	str("--snapshot", &cfg.Snapshot)
	str("--http-addr", &cfg.HTTPAddr)
	str("--flight-addr", &cfg.FlightAddr)
	str("--log-level", &cfg.LogLevel)

	if err := num("--rows", &cfg.Rows); err != nil {
		return err
	}
	if err := num("--explorers", &cfg.ExplorersK); err != nil {
		return err
	}
	if err := num("--top-foods", &cfg.TopFoodsK); err != nil {
		return err
	}
	if v, err := arguments.String("--seed"); err == nil && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("--seed must be an integer: %w", err)
		}
		cfg.Seed = seed
	}
	return cfg.Validate()
}
