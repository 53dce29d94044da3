package http

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Machine-readable error codes returned in ErrorResponse.Error
const (
	CodeBadRequest             = "BAD_REQUEST"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	CodeValidationError        = "VALIDATION_ERROR"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeServerError            = "SERVER_ERROR"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error      string   `json:"error"`                // Machine-readable error code
	Message    string   `json:"message"`              // Human-readable message
	Errors     []string `json:"errors,omitempty"`     // Violated rules for VALIDATION_ERROR
	RetryAfter int      `json:"retryAfter,omitempty"` // Seconds, for RATE_LIMIT_EXCEEDED
}

// MessageResponse is the body of a successful operation that returns no data
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// WriteValidationError writes a 400 carrying every violated rule
func WriteValidationError(w http.ResponseWriter, message string, errors []string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   CodeValidationError,
		Message: message,
		Errors:  errors,
	})
}

// WriteRateLimited writes a 429 with the retry delay in both the body and
// the Retry-After header
func WriteRateLimited(w http.ResponseWriter, message string, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      CodeRateLimitExceeded,
		Message:    message,
		RetryAfter: retryAfterSeconds,
	})
}

// WriteMessage writes a 200 with a generic message body
func WriteMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// WriteJSON writes any payload as JSON with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	writeJSON(w, statusCode, payload)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Encoding errors are not exposed to the client
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeServerError, message)
}
