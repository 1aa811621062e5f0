package refdata

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parcelworks/refgateway/internal/metrics"
)

// The ESD feed is line-oriented with pipe-delimited fields. Two record
// kinds appear, identified by the first field:
//
//	ZONE|<iso2>|<zone_code>|<description>
//	AREA|<iso2>|<area_code>|<zone_code>|<city_hint>
//
// Blank lines and lines starting with '#' are ignored. The zone code on an
// AREA record may be empty, leaving the area unlinked.
const esdFieldSep = "|"

type esdRecord struct {
	kind    string // "ZONE" or "AREA"
	country string
	code    string
	zoneRef string // AREA only, may be empty
	text    string // description (ZONE) or city hint (AREA)
}

// parseESDLine parses one feed line. Returns ok=false for lines that carry
// no record (blank, comment).
func parseESDLine(line string) (esdRecord, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return esdRecord{}, false, nil
	}

	fields := strings.Split(line, esdFieldSep)
	kind := NormalizeCode(fields[0])

	switch kind {
	case "ZONE":
		if len(fields) < 3 {
			return esdRecord{}, false, fmt.Errorf("zone record has %d fields, want at least 3", len(fields))
		}
		rec := esdRecord{
			kind:    kind,
			country: NormalizeCode(fields[1]),
			code:    NormalizeCode(fields[2]),
		}
		if len(fields) > 3 {
			rec.text = CollapseSpace(fields[3])
		}
		if len(rec.country) != 2 || rec.code == "" {
			return esdRecord{}, false, fmt.Errorf("zone record missing country or zone code")
		}
		return rec, true, nil

	case "AREA":
		if len(fields) < 3 {
			return esdRecord{}, false, fmt.Errorf("area record has %d fields, want at least 3", len(fields))
		}
		rec := esdRecord{
			kind:    kind,
			country: NormalizeCode(fields[1]),
			code:    NormalizeCode(fields[2]),
		}
		if len(fields) > 3 {
			rec.zoneRef = NormalizeCode(fields[3])
		}
		if len(fields) > 4 {
			rec.text = strings.ToUpper(CollapseSpace(fields[4]))
		}
		if len(rec.country) != 2 || rec.code == "" {
			return esdRecord{}, false, fmt.Errorf("area record missing country or area code")
		}
		return rec, true, nil

	default:
		return esdRecord{}, false, fmt.Errorf("unknown record kind %q", fields[0])
	}
}

const upsertZoneSQL = `
INSERT INTO service_zones (country_iso2, zone_code, description)
VALUES ($1, $2, $3)
ON CONFLICT (country_iso2, zone_code) DO UPDATE SET
	description = EXCLUDED.description`

const upsertAreaSQL = `
INSERT INTO service_areas (country_iso2, area_code, zone_code, city_hint)
VALUES ($1, $2, $3, $4)
ON CONFLICT (country_iso2, area_code) DO UPDATE SET
	zone_code = EXCLUDED.zone_code,
	city_hint = EXCLUDED.city_hint`

// LoadESD parses the carrier's ESD feed into the service_zones and
// service_areas tables. The whole file is one transaction; malformed lines
// are rejected and counted without aborting the run.
func LoadESD(ctx context.Context, pool *pgxpool.Pool, path string) (LoadRun, error) {
	run := newRun("esd")
	defer func() {
		metrics.ObserveRun(run.Stage, string(run.Outcome), run.RowsIn, run.RowsWritten, run.RowsRejected, time.Since(run.StartedAt))
	}()

	f, err := os.Open(path)
	if err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: %s: %v", ErrInputMissing, path, err)
	}
	defer f.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		serr := &StorageError{Op: "begin", Err: err}
		run.finish(OutcomeFailed, serr)
		return run, serr
	}
	defer tx.Rollback(ctx)

	scanner := bufio.NewScanner(newSanitizeReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var line int64
	for scanner.Scan() {
		line++
		rec, ok, err := parseESDLine(scanner.Text())
		if err != nil {
			run.RowsIn++
			run.RowsRejected++
			continue
		}
		if !ok {
			continue
		}
		run.RowsIn++

		switch rec.kind {
		case "ZONE":
			_, err = tx.Exec(ctx, upsertZoneSQL, rec.country, rec.code, nullIfEmpty(rec.text))
		case "AREA":
			_, err = tx.Exec(ctx, upsertAreaSQL, rec.country, rec.code, nullIfEmpty(rec.zoneRef), nullIfEmpty(rec.text))
		}
		if err != nil {
			serr := &StorageError{Op: fmt.Sprintf("upsert %s line %d", strings.ToLower(rec.kind), line), Err: err}
			run.finish(OutcomeFailed, serr)
			return run, serr
		}
		run.RowsWritten++
	}
	if err := scanner.Err(); err != nil {
		run.finish(OutcomeFailed, err)
		return run, fmt.Errorf("%w: read %s: %v", ErrInputMalformed, path, err)
	}

	if err := tx.Commit(ctx); err != nil {
		serr := &StorageError{Op: "commit", Err: err}
		run.finish(OutcomeFailed, serr)
		return run, serr
	}

	run.finish(OutcomeSuccess, nil)
	return run, nil
}
