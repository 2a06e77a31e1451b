package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/auth"
	"github.com/example/jobtracker/internal/logger"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, "")
}

func writeErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// validationError is a request that parsed but broke a field rule.
type validationError struct {
	Field   string
	Message string
}

func (e *validationError) Error() string { return e.Field + ": " + e.Message }

func invalid(field, message string) error {
	return &validationError{Field: field, Message: message}
}

// writeValidationError answers 422 with the offending field in details.
func writeValidationError(w http.ResponseWriter, err error) {
	var ve *validationError
	if errors.As(err, &ve) {
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", ve.Message, ve.Field)
		return
	}
	writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
}

// writeServiceError maps store and auth errors onto the API envelope.
// resource names the thing that was not found, e.g. "Company".
func (a *App) writeServiceError(w http.ResponseWriter, r *http.Request, err error, resource string) {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		writeValidationError(w, err)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", resource+" not found")
	case errors.Is(err, errCompanyExists):
		writeError(w, http.StatusConflict, "COMPANY_EXISTS", "Company with this name already exists")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		writeErrorDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), "password")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many login attempts. Try again later.")
	case errors.Is(err, auth.ErrBadCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Bad credentials")
	case errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Could not validate credentials")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "INACTIVE_ACCOUNT", "Inactive user")
	case errors.Is(err, auth.ErrRevocationDisabled):
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Token revocation is not enabled")
	default:
		logger.With(r.Context(), a.log).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
