package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// respondJSON writes payload as JSON. A nil payload writes only the status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorResponse{StatusCode: status, Code: code, Message: msg})
}

// decodeJSON decodes the request body into dst. On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			respondError(w, http.StatusBadRequest, codeInvalidArgument, "invalid JSON payload")
		case errors.As(err, &typeErr):
			respondError(w, http.StatusBadRequest, codeInvalidArgument, "field "+typeErr.Field+" has the wrong type")
		default:
			respondError(w, http.StatusBadRequest, codeInvalidArgument, "bad request")
		}
		return false
	}
	return true
}

// normalizeName trims surrounding whitespace from a name taken off the wire.
func normalizeName(name string) string {
	return strings.TrimSpace(name)
}
