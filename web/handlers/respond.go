package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/scrypster/docmem/internal/docjson"
	"github.com/scrypster/docmem/pkg/types"
)

// Transport-level error codes.
const (
	CodeInvalidJSON  = "INVALID_JSON"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
)

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case types.KindValidation:
		return http.StatusUnprocessableEntity
	case types.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful can be done on failure.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes err as an error body. Internal errors are logged and
// their message replaced with a generic one.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	body := ErrorBody{Code: types.CodeOf(err), Message: err.Error()}
	if e, ok := types.AsError(err); ok {
		body.Message = e.Message
		body.Details = e.Details
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "code", body.Code, "error", err)
		body.Message = "internal error"
	}
	respondJSON(w, status, ErrorResponse{Error: body})
}

func respondCode(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// decodeBody reads one JSON value into dst. Numbers inside untyped values
// stay json.Number so document content keeps its exact representation.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondCode(w, http.StatusRequestEntityTooLarge, CodeInvalidJSON, "request body too large")
			return false
		}
		respondCode(w, http.StatusBadRequest, CodeInvalidJSON, "could not read request body")
		return false
	}
	if err := docjson.Unmarshal(data, dst); err != nil {
		respondCode(w, http.StatusBadRequest, CodeInvalidJSON, "malformed JSON: "+err.Error())
		return false
	}
	return true
}

// ifMatch returns the entity tag of the If-Match header without quotes,
// or fallback when the header is absent.
func ifMatch(r *http.Request, fallback string) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "" {
		return fallback
	}
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func quoteETag(etag string) string {
	return `"` + etag + `"`
}
