package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parcelworks/refgateway/internal/catalog"
	"github.com/parcelworks/refgateway/internal/logging"
)

// ErrorResponse is the JSON envelope for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Field is set for parameter validation failures.
	Field string `json:"field,omitempty"`

	// TotalCount and AvailableFilters are set when a query must be narrowed
	// before it can be listed.
	TotalCount       int64                    `json:"total_count,omitempty"`
	AvailableFilters *catalog.FilterInventory `json:"available_filters,omitempty"`
}

// respondError maps service errors to HTTP responses. Validation and
// drill-down errors are client errors with structured payloads; anything
// else is a sanitized 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *catalog.ValidationError
	var dde *catalog.DrillDownError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: ve.Error(),
			Code:  "validation",
			Field: ve.Field,
		})

	case errors.As(err, &dde):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            dde.Error(),
			Code:             "drill_down_required",
			TotalCount:       dde.TotalCount,
			AvailableFilters: &dde.Filters,
		})

	default:
		logging.FromContext(r.Context()).Error("request error",
			"path", r.URL.Path,
			"method", r.Method,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "internal",
		})
	}
}

// writeJSON encodes v as JSON with the given status. Encoding errors are
// logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
