package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/logger"
	"github.com/jask/saldo/internal/service"
)

// maxBodyBytes bounds JSON bodies. Imports and restores use their own limits.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message, RequestID: w.Header().Get(requestIDHeader)})
}

// writeServiceError maps service sentinels onto status codes. Unexpected
// errors are logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), Field: verr.Field, RequestID: w.Header().Get(requestIDHeader)})
	case errors.Is(err, service.ErrValidation):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		WriteError(w, http.StatusTooManyRequests, "too many insight requests, try again later")
	case errors.Is(err, service.ErrServiceUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "insight service unavailable")
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// parseDay parses an optional YYYY-MM-DD value. Empty yields the zero time.
func parseDay(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(repository.DateLayout, s)
	if err != nil {
		return time.Time{}, &service.ValidationError{Field: field, Message: fmt.Sprintf("must be a date like 2006-01-02, got %q", s)}
	}
	return t, nil
}

func parseDayPtr(field, s string) (*time.Time, error) {
	t, err := parseDay(field, s)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &service.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}
