package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/refgateway/internal/metrics"
)

// countryRecord mirrors one element of the countries JSON feed.
type countryRecord struct {
	ISO2        string `json:"iso2"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	NumericCode string `json:"numeric_code"`
	AltCode     string `json:"alt_code"`
	DialIn      string `json:"dial_in"`
	DialOut     string `json:"dial_out"`
	Independent *bool  `json:"independent"`
}

const upsertCountrySQL = `
INSERT INTO countries (iso2, name_normalized, currency, numeric_code, alt_code, dial_in, dial_out, independent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (iso2) DO UPDATE SET
	name_normalized = EXCLUDED.name_normalized,
	currency        = EXCLUDED.currency,
	numeric_code    = EXCLUDED.numeric_code,
	alt_code        = EXCLUDED.alt_code,
	dial_in         = EXCLUDED.dial_in,
	dial_out        = EXCLUDED.dial_out,
	independent     = EXCLUDED.independent,
	updated_at      = now()`

// LoadCountries reads the countries JSON feed and upserts the countries
// table keyed by iso2. The whole run is one transaction: an I/O or parse
// failure aborts it with no partial state. Rows with a missing or
// non-two-letter iso2 are rejected and counted.
//
// The canonical name comes from the ISO index when it knows the code,
// otherwise from the feed's own name, uppercased either way.
func LoadCountries(ctx context.Context, pool *pgxpool.Pool, iso *ISOIndex, path string) (LoadRun, error) {
	run := newRun("countries")
	defer func() {
		metrics.ObserveRun(run.Stage, string(run.Outcome), run.RowsIn, run.RowsWritten, run.RowsRejected, time.Since(run.StartedAt))
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: %s: %v", ErrInputMissing, path, err)
	}

	var records []countryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: parse %s: %v", ErrInputMalformed, path, err)
	}
	run.RowsIn = int64(len(records))

	tx, err := pool.Begin(ctx)
	if err != nil {
		serr := &StorageError{Op: "begin", Err: err}
		run.finish(OutcomeFailed, serr)
		return run, serr
	}
	defer tx.Rollback(ctx) // No-op if already committed

	for _, rec := range records {
		iso2 := NormalizeCode(rec.ISO2)
		if len(iso2) != 2 {
			run.RowsRejected++
			continue
		}

		name := ""
		if iso != nil {
			if resolved := iso.NameFor(iso2); resolved != iso2 {
				name = resolved
			}
		}
		if name == "" {
			name = NormalizeCode(rec.Name)
		}
		if name == "" {
			name = iso2
		}

		_, err := tx.Exec(ctx, upsertCountrySQL,
			iso2,
			name,
			nullIfEmpty(NormalizeCode(rec.Currency)),
			nullIfEmpty(rec.NumericCode),
			nullIfEmpty(NormalizeCode(rec.AltCode)),
			nullIfEmpty(rec.DialIn),
			nullIfEmpty(rec.DialOut),
			rec.Independent,
		)
		if err != nil {
			serr := &StorageError{Op: "upsert country " + iso2, Err: err}
			run.finish(OutcomeFailed, serr)
			return run, serr
		}
		run.RowsWritten++
	}

	if err := tx.Commit(ctx); err != nil {
		serr := &StorageError{Op: "commit", Err: err}
		run.finish(OutcomeFailed, serr)
		return run, serr
	}

	run.finish(OutcomeSuccess, nil)
	return run, nil
}
