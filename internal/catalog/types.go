// Package catalog serves read queries over the loaded reference data:
// countries, postal-code ranges, and service areas.
package catalog

import (
	"fmt"
	"time"
)

// Country is one row of the countries catalog.
type Country struct {
	ISO2        string    `json:"iso2"`
	Name        string    `json:"name"`
	Currency    string    `json:"currency,omitempty"`
	NumericCode string    `json:"numeric_code,omitempty"`
	AltCode     string    `json:"alt_code,omitempty"`
	DialIn      string    `json:"dial_in,omitempty"`
	DialOut     string    `json:"dial_out,omitempty"`
	Independent *bool     `json:"independent,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PostalRange is one postal-code range row.
type PostalRange struct {
	Country     string `json:"country_iso2"`
	PostalFrom  string `json:"postal_from"`
	PostalTo    string `json:"postal_to"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	ServiceArea string `json:"service_area,omitempty"`
	ZoneCode    string `json:"zone_code,omitempty"`
	Derived     bool   `json:"derived"`
}

// PostalFilters narrow a postal-code query. Zero values mean no filter.
type PostalFilters struct {
	// ServiceArea matches exactly after uppercasing.
	ServiceArea string
	// State matches exactly after uppercasing.
	State string
	// City matches case-insensitively as a substring.
	City string
}

func (f PostalFilters) empty() bool {
	return f.ServiceArea == "" && f.State == "" && f.City == ""
}

// Pagination selects a result window. Page is 1-based.
type Pagination struct {
	Page     int
	PageSize int
}

// PageInfo describes the window a Page covers. Count is the number of rows
// on this page; TotalCount is the filtered total across all pages.
type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Count      int   `json:"count"`
	TotalCount int64 `json:"total_count"`
}

// Page is a windowed result set with its pagination envelope.
type Page[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageInfo `json:"pagination"`
}

// FilterInventory lists the distinct filter values available for a country,
// each alpha-sorted and capped at the configured inventory limit.
type FilterInventory struct {
	States       []string `json:"states"`
	Cities       []string `json:"cities"`
	ServiceAreas []string `json:"service_areas"`
}

// DrillDownError is returned when an unfiltered postal-code query would
// exceed the guard threshold. It carries the total and the filter values
// the caller can narrow by.
type DrillDownError struct {
	TotalCount int64
	Filters    FilterInventory
}

func (e *DrillDownError) Error() string {
	return fmt.Sprintf("result set of %d rows requires a filter", e.TotalCount)
}

// ValidationError reports a rejected query parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
