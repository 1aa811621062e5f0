package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parcelworks/refgateway/internal/catalog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCountries serves GET /catalog/countries.
func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.service.Countries(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countries)
}

// handleServiceAreas serves GET /catalog/service-areas/{iso2}.
func (s *Server) handleServiceAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := s.service.ServiceAreas(r.Context(), chi.URLParam(r, "iso2"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, areas)
}

// handlePostalCodes serves GET /catalog/postal-codes/{iso2}.
//
// Query parameters: service_area, state, city (filters), page, page_size
// (pagination). Unfiltered queries over large countries are answered with a
// drill-down payload instead of a listing.
func (s *Server) handlePostalCodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := catalog.PostalFilters{
		ServiceArea: q.Get("service_area"),
		State:       q.Get("state"),
		City:        q.Get("city"),
	}

	pg := catalog.Pagination{}
	var err error
	if pg.Page, err = intParam(q.Get("page")); err != nil {
		s.respondError(w, r, &catalog.ValidationError{Field: "page", Reason: "must be an integer"})
		return
	}
	if pg.PageSize, err = intParam(q.Get("page_size")); err != nil {
		s.respondError(w, r, &catalog.ValidationError{Field: "page_size", Reason: "must be an integer"})
		return
	}

	page, err := s.service.PostalCodes(r.Context(), chi.URLParam(r, "iso2"), filters, pg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// intParam parses an optional integer query parameter; empty means zero.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
