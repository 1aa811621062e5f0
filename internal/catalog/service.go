package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parcelworks/refgateway/internal/config"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Service answers catalog queries. All methods are safe for concurrent use.
type Service struct {
	db  DBTX
	cfg config.QueryConfig
}

func NewService(db DBTX, cfg config.QueryConfig) *Service {
	return &Service{db: db, cfg: cfg}
}

// Countries returns every country in the catalog, ordered by iso2.
func (s *Service) Countries(ctx context.Context) ([]Country, error) {
	rows, err := s.db.Query(ctx, `
		SELECT iso2, name_normalized,
		       COALESCE(currency, ''), COALESCE(numeric_code, ''), COALESCE(alt_code, ''),
		       COALESCE(dial_in, ''), COALESCE(dial_out, ''),
		       independent, updated_at
		FROM countries
		ORDER BY iso2`)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	defer rows.Close()

	out := []Country{}
	for rows.Next() {
		var c Country
		if err := rows.Scan(&c.ISO2, &c.Name, &c.Currency, &c.NumericCode, &c.AltCode,
			&c.DialIn, &c.DialOut, &c.Independent, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ServiceAreas returns the distinct service-area codes present in a
// country's postal ranges, alpha-sorted. An unknown country yields an empty
// slice, not an error.
func (s *Service) ServiceAreas(ctx context.Context, iso2 string) ([]string, error) {
	iso2, err := normalizeISO2(iso2)
	if err != nil {
		return nil, err
	}
	return s.distinctValues(ctx, "service_area", iso2, 0)
}

// PostalCodes returns a page of postal-code ranges for a country.
//
// Filters apply before the guard: an unfiltered query whose total exceeds
// the guard threshold returns a DrillDownError carrying the total and the
// country's filter inventory instead of a page. Ordering is by
// (postal_from, postal_to, service_area) so pages are stable across calls.
func (s *Service) PostalCodes(ctx context.Context, iso2 string, filters PostalFilters, pg Pagination) (Page[PostalRange], error) {
	var zero Page[PostalRange]

	iso2, err := normalizeISO2(iso2)
	if err != nil {
		return zero, err
	}
	pg, err = s.normalizePage(pg)
	if err != nil {
		return zero, err
	}

	where, args := postalWhere(iso2, filters)

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM postal_code_ranges `+where, args...).Scan(&total); err != nil {
		return zero, fmt.Errorf("count postal ranges: %w", err)
	}

	if filters.empty() && total > s.cfg.GuardThreshold {
		inventory, err := s.filterInventory(ctx, iso2)
		if err != nil {
			return zero, err
		}
		return zero, &DrillDownError{TotalCount: total, Filters: inventory}
	}

	args = append(args, pg.PageSize, (pg.Page-1)*pg.PageSize)
	rows, err := s.db.Query(ctx, `
		SELECT country_iso2, postal_from, postal_to,
		       COALESCE(city, ''), COALESCE(state, ''),
		       COALESCE(service_area, ''), COALESCE(zone_code, ''), derived
		FROM postal_code_ranges `+where+`
		ORDER BY postal_from, postal_to, service_area NULLS FIRST
		LIMIT $`+itoa(len(args)-1)+` OFFSET $`+itoa(len(args)), args...)
	if err != nil {
		return zero, fmt.Errorf("query postal ranges: %w", err)
	}
	defer rows.Close()

	items := []PostalRange{}
	for rows.Next() {
		var r PostalRange
		if err := rows.Scan(&r.Country, &r.PostalFrom, &r.PostalTo, &r.City, &r.State,
			&r.ServiceArea, &r.ZoneCode, &r.Derived); err != nil {
			return zero, fmt.Errorf("scan postal range: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return zero, err
	}

	return Page[PostalRange]{
		Data: items,
		Pagination: PageInfo{
			Page:       pg.Page,
			PageSize:   pg.PageSize,
			Count:      len(items),
			TotalCount: total,
		},
	}, nil
}

// filterInventory collects the distinct states, cities, and service areas
// present in a country's postal ranges, each capped to keep the payload
// bounded.
func (s *Service) filterInventory(ctx context.Context, iso2 string) (FilterInventory, error) {
	var inv FilterInventory
	var err error

	if inv.States, err = s.distinctValues(ctx, "state", iso2, s.cfg.FilterInventoryCap); err != nil {
		return inv, err
	}
	if inv.Cities, err = s.distinctValues(ctx, "city", iso2, s.cfg.FilterInventoryCap); err != nil {
		return inv, err
	}
	inv.ServiceAreas, err = s.distinctValues(ctx, "service_area", iso2, s.cfg.FilterInventoryCap)
	return inv, err
}

// distinctValues lists a column's distinct non-null values for a country,
// alpha-sorted. Column comes from a fixed caller-side set, never from
// client input. limit <= 0 means uncapped.
func (s *Service) distinctValues(ctx context.Context, column, iso2 string, limit int) ([]string, error) {
	query := `SELECT DISTINCT ` + column + `
		FROM postal_code_ranges
		WHERE country_iso2 = $1 AND ` + column + ` IS NOT NULL
		ORDER BY ` + column
	args := []interface{}{iso2}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", column, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", column, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// postalWhere builds the WHERE clause shared by the count and page queries.
func postalWhere(iso2 string, f PostalFilters) (string, []interface{}) {
	clauses := []string{"country_iso2 = $1"}
	args := []interface{}{iso2}

	if f.ServiceArea != "" {
		args = append(args, strings.ToUpper(strings.TrimSpace(f.ServiceArea)))
		clauses = append(clauses, "service_area = $"+itoa(len(args)))
	}
	if f.State != "" {
		args = append(args, strings.ToUpper(strings.TrimSpace(f.State)))
		clauses = append(clauses, "state = $"+itoa(len(args)))
	}
	if f.City != "" {
		args = append(args, "%"+strings.TrimSpace(f.City)+"%")
		clauses = append(clauses, "city ILIKE $"+itoa(len(args)))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Service) normalizePage(pg Pagination) (Pagination, error) {
	if pg.Page < 0 {
		return pg, &ValidationError{Field: "page", Reason: "must be positive"}
	}
	if pg.Page == 0 {
		pg.Page = 1
	}
	if pg.PageSize < 0 {
		return pg, &ValidationError{Field: "page_size", Reason: "must be positive"}
	}
	if pg.PageSize == 0 {
		pg.PageSize = s.cfg.DefaultPageSize
	}
	if pg.PageSize > s.cfg.MaxPageSize {
		return pg, &ValidationError{Field: "page_size", Reason: fmt.Sprintf("exceeds maximum %d", s.cfg.MaxPageSize)}
	}
	return pg, nil
}

func normalizeISO2(iso2 string) (string, error) {
	iso2 = strings.ToUpper(strings.TrimSpace(iso2))
	if len(iso2) != 2 || iso2[0] < 'A' || iso2[0] > 'Z' || iso2[1] < 'A' || iso2[1] > 'Z' {
		return "", &ValidationError{Field: "iso2", Reason: "must be two letters"}
	}
	return iso2, nil
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
