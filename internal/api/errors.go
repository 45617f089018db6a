package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tableturnerr/ttcrm/internal/crm"
	"github.com/tableturnerr/ttcrm/internal/pocketbase"
	"github.com/tableturnerr/ttcrm/internal/view"
)

const maxRequestBodySize = 1 << 20 // 1MB

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	var body errorBody
	body.Error.Message = fmt.Sprintf(format, args...)
	body.Error.Type = errType
	writeJSON(w, code, body)
}

// writeErr maps a service error to a status and error type.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, view.ErrStale), errors.Is(err, view.ErrSuperseded):
		httpError(w, http.StatusConflict, "superseded", "%v", err)
	case errors.Is(err, crm.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pocketbase.ErrNotAuthenticated):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case pocketbase.IsNotFound(err):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case pocketbase.IsValidation(err):
		httpError(w, pocketbase.StatusOf(err), "invalid_request_error", "%v", err)
	case pocketbase.IsTransient(err):
		httpError(w, http.StatusBadGateway, "store_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
