// Command load_reference_all runs the full reference-data load sequence
// against the catalog database.
//
// Exit codes:
//
//	0 all enabled stages succeeded
//	2 invalid arguments or configuration
//	3 an input file was missing or unreadable
//	4 a run failed on malformed input, schema, or storage
//	5 the postal-map reject rate exceeded the guard (partial load)
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/parcelworks/refgateway/internal/config"
	"github.com/parcelworks/refgateway/internal/db"
	"github.com/parcelworks/refgateway/internal/logging"
	"github.com/parcelworks/refgateway/internal/orchestrate"
	"github.com/parcelworks/refgateway/internal/refdata"
)

const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitMissing     = 3
	exitRunFailure  = 4
	exitRejectRate  = 5
)

var (
	skipMigrate   bool
	skipCountries bool
	skipESD       bool
	skipMap       bool

	csvFile    string
	countries  []string
	maxRows    int64
	delimiter  string
	upsert     bool
	deriveArea bool
	clearMap   bool
)

var rootCmd = &cobra.Command{
	Use:   "load_reference_all",
	Short: "Load carrier reference data into the catalog database",
	Long: `Load carrier reference data into the catalog database.

Runs schema migration, the countries feed, the ESD service dimensions, and
the postal-locations map in order. Individual stages can be skipped; the
postal stage accepts per-run overrides for source file, country filter,
delimiter, and write mode.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoad,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&skipMigrate, "skip-migrate", false, "skip the schema migration stage")
	f.BoolVar(&skipCountries, "skip-countries", false, "skip the countries stage")
	f.BoolVar(&skipESD, "skip-esd", false, "skip the ESD dimensions stage")
	f.BoolVar(&skipMap, "skip-map", false, "skip the postal-map stage")

	f.StringVar(&csvFile, "csv-file", "", "postal-locations CSV path (default from REF_POSTAL_FILE)")
	f.StringSliceVar(&countries, "countries", nil, "restrict the postal load to these ISO-2 codes")
	f.Int64Var(&maxRows, "max-rows", 0, "cap post-filter postal rows (0 = unlimited)")
	f.StringVar(&delimiter, "delimiter", "", "CSV delimiter (default: sniffed from the file)")
	f.BoolVar(&upsert, "upsert", false, "update existing postal rows on natural-key conflict")
	f.BoolVar(&deriveArea, "derive-service-area", false, "derive missing service areas from the ESD dimensions")
	f.BoolVar(&clearMap, "clear-map", false, "truncate the postal map before loading, in the same transaction")
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	opts := orchestrate.Options{
		SkipMigrate:   skipMigrate,
		SkipCountries: skipCountries,
		SkipESD:       skipESD,
		SkipMap:       skipMap,
		Postal: refdata.PostalOptions{
			File:              csvFile,
			Countries:         countries,
			MaxRows:           maxRows,
			Upsert:            upsert,
			DeriveServiceArea: deriveArea,
			Clear:             clearMap,
		},
	}
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return fmt.Errorf("--delimiter must be a single character, got %q", delimiter)
		}
		opts.Postal.Delimiter, _ = utf8.DecodeRuneInString(delimiter)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		return &exitError{code: exitRunFailure, err: err}
	}
	defer pool.Close()

	result, err := orchestrate.NewOrchestrator(pool, *cfg).RunAll(ctx, opts)
	for _, run := range result.Runs {
		slog.Info("run recorded",
			"run_id", run.RunID,
			"stage", run.Stage,
			"outcome", run.Outcome,
			"rows_in", run.RowsIn,
			"rows_written", run.RowsWritten,
			"rows_rejected", run.RowsRejected,
		)
	}
	if err != nil {
		slog.Error("load failed", "error", err)
		return &exitError{code: exitCode(err), err: err}
	}

	slog.Info("load complete", "stages", len(result.Runs))
	return nil
}

// exitError carries a documented exit code out of runLoad so deferred
// cleanup (pool close, signal handler release) runs before the process
// exits.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// resolveExitCode picks the process exit code for a failed execution.
// Errors without an explicit code are argument or configuration problems
// surfaced before any run started.
func resolveExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitInvalidArgs
}

// exitCode maps an orchestration failure to the documented exit codes.
// Malformed input, schema, and storage failures share code 4: all of them
// mean a run started and could not finish.
func exitCode(err error) int {
	switch {
	case errors.Is(err, refdata.ErrRejectRate):
		return exitRejectRate
	case errors.Is(err, refdata.ErrInputMissing):
		return exitMissing
	default:
		return exitRunFailure
	}
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(resolveExitCode(err))
	}
}
