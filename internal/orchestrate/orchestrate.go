// Package orchestrate runs the full reference-data load sequence:
// schema migration, countries, ESD dimensions, then the postal map.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/refgateway/internal/config"
	"github.com/parcelworks/refgateway/internal/logging"
	"github.com/parcelworks/refgateway/internal/migrate"
	"github.com/parcelworks/refgateway/internal/refdata"
)

// Options select which stages run and carry the per-run postal settings.
type Options struct {
	SkipMigrate   bool
	SkipCountries bool
	SkipESD       bool
	SkipMap       bool

	Postal refdata.PostalOptions
}

// Result collects the runs that executed, in order.
type Result struct {
	Runs []refdata.LoadRun
}

// Orchestrator sequences the load stages. The step functions are fields so
// tests can stub them; NewOrchestrator wires the real loaders.
type Orchestrator struct {
	pool *pgxpool.Pool
	cfg  config.Config

	migrate       func(context.Context) error
	loadCountries func(context.Context) (refdata.LoadRun, error)
	loadESD       func(context.Context) (refdata.LoadRun, error)
	loadPostal    func(context.Context, refdata.PostalOptions) (refdata.LoadRun, error)
}

func NewOrchestrator(pool *pgxpool.Pool, cfg config.Config) *Orchestrator {
	o := &Orchestrator{pool: pool, cfg: cfg}

	o.migrate = func(ctx context.Context) error {
		return migrate.Apply(ctx, pool)
	}
	o.loadCountries = func(ctx context.Context) (refdata.LoadRun, error) {
		iso := refdata.DefaultISOIndex(cfg.Reference.ISODir)
		return refdata.LoadCountries(ctx, pool, iso, cfg.Reference.CountriesFile)
	}
	o.loadESD = func(ctx context.Context) (refdata.LoadRun, error) {
		return refdata.LoadESD(ctx, pool, cfg.Reference.ESDFile)
	}
	o.loadPostal = func(ctx context.Context, opts refdata.PostalOptions) (refdata.LoadRun, error) {
		return refdata.LoadPostalMap(ctx, pool, opts)
	}
	return o
}

// RunAll executes the enabled stages in order, stopping at the first
// failure. Every completed loader run is persisted to load_runs and
// returned, including the failing one.
func (o *Orchestrator) RunAll(ctx context.Context, opts Options) (Result, error) {
	var res Result

	if !opts.SkipMigrate {
		start := time.Now()
		if err := o.migrate(ctx); err != nil {
			return res, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("schema up to date", "elapsed", time.Since(start).Round(time.Millisecond))
	} else {
		slog.Info("skipping migration")
	}

	steps := []struct {
		name string
		skip bool
		run  func(context.Context) (refdata.LoadRun, error)
	}{
		{"countries", opts.SkipCountries, o.loadCountries},
		{"esd", opts.SkipESD, o.loadESD},
		{"postal_map", opts.SkipMap, func(ctx context.Context) (refdata.LoadRun, error) {
			return o.loadPostal(ctx, o.postalOptions(opts))
		}},
	}

	for _, step := range steps {
		log := logging.WithFields(ctx, "stage", step.name)
		if step.skip {
			log.Info("skipping stage")
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		log.Info("stage starting")
		run, err := step.run(ctx)
		if o.pool != nil {
			refdata.RecordRun(ctx, o.pool, run)
		}
		if run.Stage != "" {
			res.Runs = append(res.Runs, run)
		}
		if err != nil {
			log.Error("stage failed",
				"outcome", run.Outcome,
				"rows_in", run.RowsIn,
				"rows_rejected", run.RowsRejected,
				"error", err,
			)
			return res, fmt.Errorf("%s: %w", step.name, err)
		}
		log.Info("stage finished",
			"rows_in", run.RowsIn,
			"rows_written", run.RowsWritten,
			"rows_rejected", run.RowsRejected,
			"elapsed", run.Duration().Round(time.Millisecond),
		)
	}

	return res, nil
}

// postalOptions folds config defaults under the per-run flag values.
func (o *Orchestrator) postalOptions(opts Options) refdata.PostalOptions {
	p := opts.Postal
	if p.File == "" {
		p.File = o.cfg.Reference.PostalFile
	}
	if p.BatchSize == 0 {
		p.BatchSize = o.cfg.Loader.BatchSize
	}
	if p.QueueDepth == 0 {
		p.QueueDepth = o.cfg.Loader.QueueDepth
	}
	if p.CommitTimeout == 0 {
		p.CommitTimeout = o.cfg.Loader.CommitTimeout
	}
	if p.CommitRetries == 0 {
		p.CommitRetries = o.cfg.Loader.CommitRetries
	}
	if p.RejectMaxPct == 0 {
		p.RejectMaxPct = o.cfg.Loader.RejectMaxPct
	}
	if p.RejectMinRows == 0 {
		p.RejectMinRows = int64(o.cfg.Loader.RejectMinRows)
	}
	return p
}
