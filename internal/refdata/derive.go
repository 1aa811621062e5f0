package refdata

import (
	"context"
	"fmt"
)

// DerivationIndex resolves a postal row's service area from the ESD
// dimension tables. It is built once per load run and queried per row.
//
// The ESD feed carries no postal ranges, so resolution goes through the
// area's city hint: an exact match on the row's normalized city name. A miss
// is not an error; the row is written with a NULL service_area.
type DerivationIndex struct {
	// country -> uppercased city hint -> area code
	byCity map[string]map[string]string
	// (country, area code) -> zone code
	zoneOf map[string]string
}

// BuildDerivationIndex loads service_areas (with their zone links) into
// memory. Countries limits the index to the load's country filter; empty
// means all countries.
func BuildDerivationIndex(ctx context.Context, db DBTX, countries []string) (*DerivationIndex, error) {
	idx := &DerivationIndex{
		byCity: make(map[string]map[string]string),
		zoneOf: make(map[string]string),
	}

	query := `SELECT country_iso2, area_code, COALESCE(zone_code, ''), COALESCE(city_hint, '') FROM service_areas`
	var args []interface{}
	if len(countries) > 0 {
		// The dimension tables store uppercase codes, so the filter must be
		// normalized the same way or the index comes back empty.
		norm := make([]string, len(countries))
		for i, c := range countries {
			norm[i] = NormalizeCode(c)
		}
		query += ` WHERE country_iso2 = ANY($1)`
		args = append(args, norm)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "load service areas", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var country, area, zone, cityHint string
		if err := rows.Scan(&country, &area, &zone, &cityHint); err != nil {
			return nil, &StorageError{Op: "scan service area", Err: err}
		}
		country = NormalizeCode(country)
		if zone != "" {
			idx.zoneOf[country+"/"+area] = zone
		}
		if cityHint == "" {
			continue
		}
		cities := idx.byCity[country]
		if cities == nil {
			cities = make(map[string]string)
			idx.byCity[country] = cities
		}
		cities[CanonicalPostal(cityHint)] = area
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate service areas", Err: err}
	}

	return idx, nil
}

// Resolve returns the service area and zone for a row, or ok=false when no
// area matches. City must already be normalized (trimmed, collapsed).
func (d *DerivationIndex) Resolve(country, city string) (area, zone string, ok bool) {
	if d == nil || city == "" {
		return "", "", false
	}
	cities := d.byCity[NormalizeCode(country)]
	if cities == nil {
		return "", "", false
	}
	area, ok = cities[CanonicalPostal(city)]
	if !ok {
		return "", "", false
	}
	return area, d.zoneOf[fmt.Sprintf("%s/%s", NormalizeCode(country), area)], true
}

// Areas reports how many city hints the index can resolve through.
func (d *DerivationIndex) Areas() int {
	n := 0
	for _, cities := range d.byCity {
		n += len(cities)
	}
	return n
}
