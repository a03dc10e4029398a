// Package handler translates HTTP requests into service calls and service
// results into JSON responses. Handlers parse input, call one service method
// and write the result; the rules live in internal/service.
//
// Every response is a JSON envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "error": "not_found", "message": "badge not found with id abc"}
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/mentor-app/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// envelope is the top-level JSON object of a successful response. "success"
// and "data" are always present; some endpoints add siblings such as
// "pagination" or "levelUp".
type envelope map[string]any

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sets headers and status before encoding: once the body starts,
// header changes are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeData writes {"success": true, "data": data} plus any extra fields.
func writeData(w http.ResponseWriter, status int, data any, extra envelope) {
	body := envelope{"success": true, "data": data}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeError maps a domain error to its HTTP status.
//
// Only *apperror.AppError messages reach the client. Anything else is an
// unexpected failure (SQL, I/O) whose text may leak internals, so it is
// logged by the caller and answered with a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
			Field:   appErr.Field,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads a single JSON object from the request body into v.
// Malformed bodies come back as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is required")
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", "request body is too large")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body: "+err.Error())
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}
