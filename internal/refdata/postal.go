package refdata

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/refgateway/internal/metrics"
)

// PostalOptions control a postal-map load run.
type PostalOptions struct {
	// File is the postal-locations CSV path.
	File string

	// Countries filters ingestion to these ISO-2 codes. Empty means all.
	Countries []string

	// MaxRows caps how many post-filter rows are processed. 0 is unlimited.
	MaxRows int64

	// Delimiter is the CSV field separator. 0 sniffs it from the first
	// non-empty line, preferring ',' then ';' then '\t'.
	Delimiter rune

	// Upsert makes natural-key conflicts update the existing row. When
	// false, conflicting rows are rejected and counted.
	Upsert bool

	// DeriveServiceArea fills an empty service_area from the ESD dimension
	// tables, flagging the row as derived.
	DeriveServiceArea bool

	// Clear truncates the table before ingest, inside the same transaction
	// as the ingest itself.
	Clear bool

	// BatchSize is rows per write batch (default 2000).
	BatchSize int

	// QueueDepth is how many batches may queue between reader and writer
	// (default 2).
	QueueDepth int

	// CommitTimeout bounds each batch commit (default 60s).
	CommitTimeout time.Duration

	// CommitRetries is how many times a failed batch is retried (default 3).
	CommitRetries int

	// RejectMaxPct and RejectMinRows form the reject-rate guard: once
	// RejectMinRows post-filter rows have been read, a reject share above
	// RejectMaxPct aborts the run. Defaults 5 / 10000.
	RejectMaxPct  int
	RejectMinRows int64
}

func (o *PostalOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 2000
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 2
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 60 * time.Second
	}
	if o.CommitRetries < 0 {
		o.CommitRetries = 0
	}
	if o.CommitRetries == 0 {
		o.CommitRetries = 3
	}
	if o.RejectMaxPct <= 0 {
		o.RejectMaxPct = 5
	}
	if o.RejectMinRows <= 0 {
		o.RejectMinRows = 10000
	}
}

// retryBackoff holds the waits between batch retries.
var retryBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// postalRow is a validated, normalized postal-locations record ready to
// write. Empty strings become SQL NULLs at write time.
type postalRow struct {
	Country     string
	From        string
	To          string
	City        string
	State       string
	ServiceArea string
	Zone        string
	Derived     bool
	SourceRow   int64
}

// columnAliases maps each logical column to the header spellings seen in
// carrier exports. Header cells are matched case-insensitively with spaces
// and underscores removed.
var columnAliases = map[string][]string{
	"country": {"countryiso2", "country", "countrycode", "iso2"},
	"from":    {"postalfrom", "from", "postcodefrom", "postalcodefrom"},
	"to":      {"postalto", "to", "postcodeto", "postalcodeto"},
	"city":    {"city", "cityname"},
	"state":   {"state", "province", "statecode"},
	"area":    {"servicearea", "area", "serviceareacode"},
}

// postalColumns holds resolved header positions. Required columns are
// country and from; the rest are -1 when absent.
type postalColumns struct {
	country, from, to, city, state, area int
}

func resolvePostalHeader(header []string) (postalColumns, error) {
	cols := postalColumns{country: -1, from: -1, to: -1, city: -1, state: -1, area: -1}

	normalize := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.ReplaceAll(s, " ", "")
		return strings.ReplaceAll(s, "_", "")
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[normalize(h)] = i
	}

	lookup := func(logical string) int {
		for _, alias := range columnAliases[logical] {
			if pos, ok := positions[alias]; ok {
				return pos
			}
		}
		return -1
	}

	cols.country = lookup("country")
	cols.from = lookup("from")
	cols.to = lookup("to")
	cols.city = lookup("city")
	cols.state = lookup("state")
	cols.area = lookup("area")

	if cols.country < 0 {
		return cols, fmt.Errorf("%w: header has no country column", ErrInputMalformed)
	}
	if cols.from < 0 {
		return cols, fmt.Errorf("%w: header has no postal_from column", ErrInputMalformed)
	}
	return cols, nil
}

// sniffDelimiter picks the separator from the first non-empty line,
// preferring ',' then ';' then '\t'. Defaults to ',' when none appears.
func sniffDelimiter(line string) rune {
	for _, d := range []rune{',', ';', '\t'} {
		if strings.ContainsRune(line, d) {
			return d
		}
	}
	return ','
}

func cell(rec []string, pos int) string {
	if pos < 0 || pos >= len(rec) {
		return ""
	}
	return rec[pos]
}

// batchResult carries the writer's accounting back to the reader.
type batchResult struct {
	written  int64
	rejected int64
	err      error
}

// LoadPostalMap streams the postal-locations CSV into postal_code_ranges.
//
// The reader goroutine parses, filters, and normalizes rows into batches;
// the writer consumes them over a bounded channel (back-pressure keeps at
// most QueueDepth batches in flight). Without Clear each batch commits in
// its own transaction; with Clear the truncate and every batch share one
// transaction, so a failed run leaves the pre-run rows intact.
func LoadPostalMap(ctx context.Context, pool *pgxpool.Pool, opts PostalOptions) (LoadRun, error) {
	opts.applyDefaults()
	run := newRun("postal_map")
	defer func() {
		metrics.ObserveRun(run.Stage, string(run.Outcome), run.RowsIn, run.RowsWritten, run.RowsRejected, time.Since(run.StartedAt))
	}()

	run.State = StateOpening
	f, err := os.Open(opts.File)
	if err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: %s: %v", ErrInputMissing, opts.File, err)
	}
	defer f.Close()

	src := newSanitizeReader(f)
	buffered := bufio.NewReaderSize(src, 64*1024)

	delim := opts.Delimiter
	if delim == 0 {
		peeked, _ := buffered.Peek(64 * 1024)
		delim = sniffDelimiter(firstNonEmptyLine(string(peeked)))
	}

	r := csv.NewReader(buffered)
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: read header: %v", ErrInputMalformed, err)
	}
	cols, err := resolvePostalHeader(header)
	if err != nil {
		run.finish(OutcomeFailed, err)
		return run, err
	}

	countryFilter := make(map[string]bool, len(opts.Countries))
	for _, c := range opts.Countries {
		countryFilter[NormalizeCode(c)] = true
	}

	var derive *DerivationIndex
	if opts.DeriveServiceArea {
		derive, err = BuildDerivationIndex(ctx, pool, opts.Countries)
		if err != nil {
			run.finish(OutcomeFailed, err)
			return run, err
		}
		slog.Debug("derivation index built", "city_hints", derive.Areas())
	}

	batches := make(chan []postalRow, opts.QueueDepth)
	done := make(chan batchResult, 1)
	go writePostalBatches(ctx, pool, opts, batches, done)

	run.State = StateReading
	readErr := readPostalRows(ctx, r, cols, countryFilter, derive, opts, &run, batches)
	close(batches)
	run.State = StateCommitting
	wres := <-done
	slog.Debug("postal stream consumed", "bytes_read", src.BytesRead())

	run.RowsWritten = wres.written
	run.RowsRejected += wres.rejected

	switch {
	case wres.err != nil:
		run.finish(OutcomeFailed, wres.err)
		return run, wres.err
	case readErr != nil && errors.Is(readErr, ErrRejectRate):
		run.finish(OutcomePartial, readErr)
		return run, readErr
	case readErr != nil:
		run.finish(OutcomeFailed, readErr)
		return run, readErr
	}

	// Re-check the guard with conflict rejects included.
	if run.RowsIn >= opts.RejectMinRows && run.RowsRejected*100 > run.RowsIn*int64(opts.RejectMaxPct) {
		err := fmt.Errorf("%w: %d of %d rows rejected", ErrRejectRate, run.RowsRejected, run.RowsIn)
		run.finish(OutcomePartial, err)
		return run, err
	}

	run.finish(OutcomeSuccess, nil)
	return run, nil
}

// readPostalRows drives the CSV reader: filter, normalize, batch, send.
// Counts post-filter rows into run.RowsIn and validation rejects into
// run.RowsRejected. Returns ErrRejectRate when the guard trips.
func readPostalRows(
	ctx context.Context,
	r *csv.Reader,
	cols postalColumns,
	countryFilter map[string]bool,
	derive *DerivationIndex,
	opts PostalOptions,
	run *LoadRun,
	batches chan<- []postalRow,
) error {
	batch := make([]postalRow, 0, opts.BatchSize)
	var line int64 = 1 // header consumed

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		run.State = StateFlushing
		defer func() { run.State = StateReading }()
		select {
		case batches <- batch:
			batch = make([]postalRow, 0, opts.BatchSize)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			// A torn line is a row-level reject, not a fatal parse error.
			run.RowsIn++
			run.RowsRejected++
			continue
		}

		country := NormalizeCode(cell(rec, cols.country))
		if len(countryFilter) > 0 && !countryFilter[country] {
			continue // short-circuit before touching other fields
		}

		run.RowsIn++

		row, rerr := buildPostalRow(rec, cols, country, line, derive, opts.DeriveServiceArea)
		if rerr != nil {
			run.RowsRejected++
		} else {
			batch = append(batch, row)
			if len(batch) >= opts.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}

		if run.RowsIn >= opts.RejectMinRows && run.RowsRejected*100 > run.RowsIn*int64(opts.RejectMaxPct) {
			_ = flush()
			return fmt.Errorf("%w: %d of %d rows rejected", ErrRejectRate, run.RowsRejected, run.RowsIn)
		}

		if opts.MaxRows > 0 && run.RowsIn >= opts.MaxRows {
			break
		}
	}

	return flush()
}

// buildPostalRow validates and normalizes one record.
func buildPostalRow(rec []string, cols postalColumns, country string, line int64, derive *DerivationIndex, deriveArea bool) (postalRow, error) {
	if len(country) != 2 {
		return postalRow{}, rowError{Line: line, Reason: "missing or invalid country code"}
	}

	from := CanonicalPostal(cell(rec, cols.from))
	if from == "" {
		return postalRow{}, rowError{Line: line, Reason: "missing postal_from"}
	}
	to := CanonicalPostal(cell(rec, cols.to))
	if to == "" {
		to = from
	}
	if ComparePostal(country, from, to) > 0 {
		return postalRow{}, rowError{Line: line, Reason: fmt.Sprintf("postal_from %q > postal_to %q", from, to)}
	}

	row := postalRow{
		Country:     country,
		From:        from,
		To:          to,
		City:        strings.ToUpper(CollapseSpace(cell(rec, cols.city))),
		State:       strings.ToUpper(CollapseSpace(cell(rec, cols.state))),
		ServiceArea: NormalizeCode(cell(rec, cols.area)),
		SourceRow:   line,
	}

	if row.ServiceArea == "" && deriveArea {
		if area, zone, ok := derive.Resolve(country, row.City); ok {
			row.ServiceArea = area
			row.Zone = zone
			row.Derived = true
		}
	}

	return row, nil
}

const insertPostalSQL = `
INSERT INTO postal_code_ranges (country_iso2, postal_from, postal_to, city, state, service_area, zone_code, derived, source_row)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (country_iso2, postal_from, postal_to, service_area) DO NOTHING`

const upsertPostalSQL = `
INSERT INTO postal_code_ranges (country_iso2, postal_from, postal_to, city, state, service_area, zone_code, derived, source_row)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (country_iso2, postal_from, postal_to, service_area) DO UPDATE SET
	city       = EXCLUDED.city,
	state      = EXCLUDED.state,
	zone_code  = EXCLUDED.zone_code,
	derived    = EXCLUDED.derived,
	source_row = EXCLUDED.source_row,
	updated_at = now()`

// writePostalBatches is the writer side of the pipeline. It consumes
// batches until the channel closes, then reports totals. After a fatal
// error remaining batches are drained and discarded so the reader never
// blocks.
func writePostalBatches(ctx context.Context, pool *pgxpool.Pool, opts PostalOptions, batches <-chan []postalRow, done chan<- batchResult) {
	var res batchResult

	if opts.Clear {
		res = writeClearRun(ctx, pool, opts, batches)
	} else {
		for batch := range batches {
			if res.err != nil {
				continue // drain
			}
			written, rejected, err := writeBatchTx(ctx, pool, opts, batch)
			res.written += written
			res.rejected += rejected
			res.err = err
		}
	}

	done <- res
}

/// writeClearRun holds one transaction for the whole run: truncate first,
// then apply every batch under a savepoint so a retryable batch failure
// does not poison the transaction. Any unrecovered error rolls the whole
// run back, leaving the pre-run table intact.
func writeClearRun(ctx context.Context, pool *pgxpool.Pool, opts PostalOptions, batches <-chan []postalRow) batchResult {
	var res batchResult

	tx, err := pool.Begin(ctx)
	if err != nil {
		res.err = &StorageError{Op: "begin clear run", Err: err}
		for range batches {
		}
		return res
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE postal_code_ranges`); err != nil {
		res.err = &StorageError{Op: "truncate", Err: err}
		for range batches {
		}
		return res
	}

	n := 0
	for batch := range batches {
		if res.err != nil {
			continue // drain
		}
		n++
		sp := fmt.Sprintf("batch_%d", n)
		written, rejected, err := applyBatchWithRetry(ctx, opts, func(attemptCtx context.Context) (int64, int64, error) {
			if _, err := tx.Exec(attemptCtx, "SAVEPOINT "+sp); err != nil {
				return 0, 0, err
			}
			written, rejected, err := execBatch(attemptCtx, tx, opts, batch)
			if err != nil {
				_, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp)
				if rbErr != nil {
					return 0, 0, fmt.Errorf("batch failed and savepoint rollback failed: %v: %w", rbErr, err)
				}
				return 0, 0, err
			}
			if _, err := tx.Exec(attemptCtx, "RELEASE SAVEPOINT "+sp); err != nil {
				return 0, 0, err
			}
			return written, rejected, nil
		})
		res.written += written
		res.rejected += rejected
		res.err = err
	}

	if res.err != nil {
		return res
	}
	if err := tx.Commit(ctx); err != nil {
		res.err = &StorageError{Op: "commit clear run", Err: err}
		res.written = 0
	}
	return res
}

// writeBatchTx commits one batch in its own transaction.
func writeBatchTx(ctx context.Context, pool *pgxpool.Pool, opts PostalOptions, batch []postalRow) (int64, int64, error) {
	return applyBatchWithRetry(ctx, opts, func(attemptCtx context.Context) (int64, int64, error) {
		tx, err := pool.Begin(attemptCtx)
		if err != nil {
			return 0, 0, err
		}
		defer tx.Rollback(ctx)

		written, rejected, err := execBatch(attemptCtx, tx, opts, batch)
		if err != nil {
			return 0, 0, err
		}
		if err := tx.Commit(attemptCtx); err != nil {
			return 0, 0, err
		}
		return written, rejected, nil
	})
}

// applyBatchWithRetry runs attempt under the commit timeout, retrying with
// backoff. Cancellation of the outer context is not retried.
func applyBatchWithRetry(ctx context.Context, opts PostalOptions, attempt func(context.Context) (int64, int64, error)) (int64, int64, error) {
	var lastErr error
	for try := 0; try <= opts.CommitRetries; try++ {
		if try > 0 {
			wait := retryBackoff[len(retryBackoff)-1]
			if try-1 < len(retryBackoff) {
				wait = retryBackoff[try-1]
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return 0, 0, ctx.Err()
			}
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, opts.CommitTimeout)
		written, rejected, err := attempt(attemptCtx)
		cancel()
		metrics.BatchCommitSeconds.Observe(time.Since(start).Seconds())

		if err == nil {
			return written, rejected, nil
		}
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		lastErr = err
		slog.Warn("postal batch attempt failed", "attempt", try+1, "error", err)
	}
	return 0, 0, &StorageError{Op: "write batch", Err: lastErr}
}

// execBatch sends one statement per row over the pgx batch protocol.
// Under upsert every row affects one row; under insert-only a conflict
// affects zero rows and is counted as rejected. Later duplicates of the
// same natural key within the batch therefore win under upsert and lose
// under insert-only, matching the run-level ordering contract.
func execBatch(ctx context.Context, tx pgx.Tx, opts PostalOptions, batch []postalRow) (int64, int64, error) {
	sql := insertPostalSQL
	if opts.Upsert {
		sql = upsertPostalSQL
	}

	b := &pgx.Batch{}
	for _, row := range batch {
		b.Queue(sql,
			row.Country,
			row.From,
			row.To,
			nullIfEmpty(row.City),
			nullIfEmpty(row.State),
			nullIfEmpty(row.ServiceArea),
			nullIfEmpty(row.Zone),
			row.Derived,
			row.SourceRow,
		)
	}

	br := tx.SendBatch(ctx, b)
	var written, rejected int64
	var execErr error
	for range batch {
		tag, err := br.Exec()
		if err != nil {
			execErr = err
			break
		}
		if tag.RowsAffected() == 0 {
			rejected++
		} else {
			written++
		}
	}
	if closeErr := br.Close(); execErr == nil && closeErr != nil {
		execErr = closeErr
	}
	if execErr != nil {
		return 0, 0, execErr
	}
	return written, rejected, nil
}

// firstNonEmptyLine returns the first line of s with content.
func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
