// Package migrate applies the reference-catalog schema on startup.
//
// The DDL is embedded and applied statement by statement; every statement is
// idempotent (IF NOT EXISTS), so re-running a migration is a no-op.
package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS countries (
	iso2            CHAR(2) PRIMARY KEY,
	name_normalized TEXT NOT NULL,
	currency        TEXT,
	numeric_code    TEXT,
	alt_code        TEXT,
	dial_in         TEXT,
	dial_out        TEXT,
	independent     BOOLEAN,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS service_zones (
	country_iso2 CHAR(2) NOT NULL,
	zone_code    TEXT NOT NULL,
	description  TEXT,
	PRIMARY KEY (country_iso2, zone_code)
);

CREATE TABLE IF NOT EXISTS service_areas (
	country_iso2 CHAR(2) NOT NULL,
	area_code    TEXT NOT NULL,
	zone_code    TEXT,
	city_hint    TEXT,
	PRIMARY KEY (country_iso2, area_code)
);

CREATE TABLE IF NOT EXISTS postal_code_ranges (
	country_iso2  CHAR(2) NOT NULL REFERENCES countries (iso2),
	postal_from   TEXT NOT NULL,
	postal_to     TEXT NOT NULL,
	city          TEXT,
	state         TEXT,
	service_area  TEXT,
	zone_code     TEXT,
	derived       BOOLEAN NOT NULL DEFAULT false,
	source_row    BIGINT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS postal_code_ranges_natural_key
	ON postal_code_ranges (country_iso2, postal_from, postal_to, service_area)
	NULLS NOT DISTINCT;

CREATE INDEX IF NOT EXISTS postal_code_ranges_country
	ON postal_code_ranges (country_iso2);

CREATE INDEX IF NOT EXISTS postal_code_ranges_country_state
	ON postal_code_ranges (country_iso2, state);

CREATE INDEX IF NOT EXISTS postal_code_ranges_country_city
	ON postal_code_ranges (country_iso2, city);

CREATE INDEX IF NOT EXISTS postal_code_ranges_country_area
	ON postal_code_ranges (country_iso2, service_area);

CREATE TABLE IF NOT EXISTS load_runs (
	run_id        UUID PRIMARY KEY,
	stage         TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	rows_in       BIGINT NOT NULL DEFAULT 0,
	rows_written  BIGINT NOT NULL DEFAULT 0,
	rows_rejected BIGINT NOT NULL DEFAULT 0,
	outcome       TEXT NOT NULL DEFAULT 'pending',
	first_error   TEXT
);
`

// Apply executes the embedded schema against the database.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range SplitStatements(schema) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// SplitStatements breaks a SQL bundle into individual statements on
// semicolon boundaries, dropping empties. The embedded schema contains no
// string literals with semicolons, so a plain split is sufficient.
func SplitStatements(bundle string) []string {
	parts := strings.Split(bundle, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			stmts = append(stmts, p)
		}
	}
	return stmts
}
