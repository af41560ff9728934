package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	workqueuesvc "github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorReason(w, status, message, "")
}

func writeErrorReason(w http.ResponseWriter, status int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Reason: reason})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps a service error onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var unknown *workload.UnknownDatasetError
	switch {
	case errors.Is(err, element.ErrValidation):
		writeErrorReason(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.Is(err, element.ErrInvalidTransition):
		writeErrorReason(w, http.StatusConflict, err.Error(), "invalid_transition")
	case errors.Is(err, workqueue.ErrRequestClosed):
		writeErrorReason(w, http.StatusConflict, err.Error(), "request_closed")
	case errors.Is(err, workqueue.ErrNotOwned):
		writeErrorReason(w, http.StatusForbidden, err.Error(), "not_owned")
	case errors.Is(err, workqueue.ErrDeferred), errors.Is(err, elementstore.ErrConflict):
		writeErrorReason(w, http.StatusServiceUnavailable, err.Error(), "deferred")
	case errors.Is(err, elementstore.ErrNotFound), errors.As(err, &unknown):
		writeErrorReason(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, workqueuesvc.ErrNotLocal):
		writeErrorReason(w, http.StatusConflict, err.Error(), "not_local")
	case errors.Is(err, workqueuesvc.ErrNoFeed):
		writeErrorReason(w, http.StatusNotImplemented, err.Error(), "no_feed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// method wraps h so it only answers the given HTTP method.
func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseUint parses a non-negative integer, returning 0 when absent or
// malformed.
func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseBool parses a boolean string and returns the boolean value.
//
// Returns true for "true" or "1", false otherwise.
func parseBool(s string) bool {
	return s == "true" || s == "1"
}
