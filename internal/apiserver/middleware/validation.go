// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"

	chi "github.com/go-chi/chi/v5"
)

const (
	// MaxRequestBodySize is the maximum allowed request body size (1MB).
	// Run submissions are small; anything larger is malformed or hostile.
	MaxRequestBodySize = 1024 * 1024

	// maxStepOrdinal bounds the step_ordinal field when present
	maxStepOrdinal = 5
)

// ValidationError represents a validation error response
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// IDValidator creates a middleware that validates run IDs in URL parameters
func IDValidator(paramName string) func(http.Handler) http.Handler {
	// Valid ID pattern: alphanumeric and hyphens, 1-100 characters
	validIDPattern := regexp.MustCompile(`^[a-zA-Z0-9-]{1,100}$`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, paramName)

			if id == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !validIDPattern.MatchString(id) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or is too long", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// EnvironmentParamValidator creates a middleware that validates
// environment names in URL parameters
func EnvironmentParamValidator(paramName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, paramName)

			if name == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}

			if !environmentNamePattern.MatchString(name) {
				writeValidationError(w, fmt.Sprintf("%s contains invalid characters or format", paramName), paramName)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Valid environment name: alphanumeric, hyphens, underscores, dots.
// Must start and end with alphanumeric, 2-100 characters.
var environmentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,98}[a-zA-Z0-9]$`)

// EnvironmentValidator creates a middleware that validates the
// environment field in run submissions
func EnvironmentValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip validation for non-modifying requests
			if !isModifyingRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := parseAndRestoreBody(r)
			if err != nil {
				writeValidationError(w, err.Error(), "body")
				return
			}

			if err := validateEnvironmentField(body); err != nil {
				writeValidationError(w, err.Error(), "environment")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateEnvironmentField checks the environment field shape. Presence
// is the handler's job; an absent field passes here.
func validateEnvironmentField(body map[string]interface{}) error {
	name, ok := body["environment"].(string)
	if !ok {
		return nil
	}

	if name == "" {
		return fmt.Errorf("environment cannot be empty")
	}

	if len(name) < 2 {
		return fmt.Errorf("environment must be at least 2 characters long")
	}

	if !environmentNamePattern.MatchString(name) {
		return fmt.Errorf("environment contains invalid characters or format")
	}

	return nil
}

// OperationValidator creates a middleware that validates the operation
// and step_ordinal fields in run submissions
func OperationValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip validation for non-modifying requests
			if !isModifyingRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := parseAndRestoreBody(r)
			if err != nil {
				writeValidationError(w, err.Error(), "body")
				return
			}

			if err := validateOperationField(body); err != nil {
				writeValidationError(w, err.Error(), "operation")
				return
			}

			if err := validateStepOrdinalField(body); err != nil {
				writeValidationError(w, err.Error(), "step_ordinal")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateOperationField checks the operation field against the
// supported pipeline kinds
func validateOperationField(body map[string]interface{}) error {
	operation, ok := body["operation"].(string)
	if !ok {
		return nil
	}

	switch operation {
	case "deploy", "destroy", "step":
		return nil
	default:
		return fmt.Errorf("operation must be one of: deploy, destroy, step")
	}
}

// validateStepOrdinalField checks that step_ordinal, when present, is a
// whole number within the step range. JSON numbers arrive as float64.
func validateStepOrdinalField(body map[string]interface{}) error {
	raw, present := body["step_ordinal"]
	if !present {
		return nil
	}

	ordinal, ok := raw.(float64)
	if !ok || ordinal != math.Trunc(ordinal) {
		return fmt.Errorf("step_ordinal must be a whole number")
	}

	if ordinal < 1 || ordinal > maxStepOrdinal {
		return fmt.Errorf("step_ordinal must be between 1 and %d", maxStepOrdinal)
	}

	return nil
}

// isModifyingRequest checks if the request method modifies data
func isModifyingRequest(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodPut
}

// parseAndRestoreBody reads, parses, and restores the request body with size limit
func parseAndRestoreBody(r *http.Request) (map[string]interface{}, error) {
	// Limit request body to prevent DoS attacks
	limitedReader := io.LimitReader(r.Body, MaxRequestBodySize)
	bodyBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body")
	}

	// Check if we hit the limit by trying to read one more byte
	if n, _ := io.Copy(io.Discard, r.Body); n > 0 {
		return nil, fmt.Errorf("request body too large (max %d bytes)", MaxRequestBodySize)
	}

	_ = r.Body.Close()

	var body map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON in request body")
	}

	// Restore the body for the next handler
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	return body, nil
}

// ContentTypeValidator ensures requests have proper content type
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only validate on requests with body
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				if r.ContentLength > 0 || r.Header.Get("Transfer-Encoding") != "" {
					contentType := r.Header.Get("Content-Type")
					if contentType != "application/json" {
						writeValidationError(w, "Content-Type must be application/json", "header")
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeValidationError writes a validation error response
func writeValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := ValidationError{
		Error:   "validation_error",
		Message: message,
		Field:   field,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Best effort; the client still gets the status code
		_ = err
	}
}
