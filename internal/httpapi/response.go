package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/firetick/firetick/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []ErrorField `json:"details,omitempty"`
}

// ErrorField describes a field-specific error.
type ErrorField struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondOK sends a 200 OK response with JSON data.
func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, data)
}

// respondCreated sends a 201 Created response with JSON data.
func respondCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, data)
}

// respondNoContent sends a 204 No Content response.
func respondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// respondError sends a generic error response.
func respondError(w http.ResponseWriter, code, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// badRequest sends a 400 Bad Request error.
func badRequest(w http.ResponseWriter, message string) {
	respondError(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// validationError sends a 400 validation error with field details.
func validationError(w http.ResponseWriter, field, issue string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    "VALIDATION_ERROR",
			Message: "validation failed",
			Details: []ErrorField{{Field: field, Issue: issue}},
		},
	})
}

// notFound sends a 404 Not Found error.
func notFound(w http.ResponseWriter, resource string) {
	respondError(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// forbidden sends a 403 Forbidden error.
func forbidden(w http.ResponseWriter, message string) {
	respondError(w, "FORBIDDEN", message, http.StatusForbidden)
}

// conflict sends a 409 Conflict error.
func conflict(w http.ResponseWriter, message string) {
	respondError(w, "CONFLICT", message, http.StatusConflict)
}

// internalError sends a 500 Internal Server Error. The underlying error is
// logged server-side; the client gets a generic message.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	respondError(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// fromDomainError maps domain errors to HTTP responses.
func fromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCron):
		validationError(w, "cron_expr", err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		validationError(w, "id", "invalid ID format")

	case errors.Is(err, domain.ErrJobNotFound):
		notFound(w, "job")
	case errors.Is(err, domain.ErrExecutionNotFound):
		notFound(w, "execution")
	case errors.Is(err, domain.ErrRunNotFound):
		notFound(w, "run")
	case errors.Is(err, domain.ErrNotFound):
		notFound(w, "resource")

	case errors.Is(err, domain.ErrQuotaExceeded):
		forbidden(w, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		respondError(w, "RATE_LIMITED", err.Error(), http.StatusTooManyRequests)

	case errors.Is(err, domain.ErrLockNotAcquired):
		conflict(w, "resource is busy, try again")

	default:
		internalError(w, r, err)
	}
}
