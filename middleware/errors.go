/*
Package middleware provides error handling utilities and structured error responses.
*/
package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// ErrorCode classifies an error response
type ErrorCode string

const (
	ErrCodeFetchFailed        ErrorCode = "FAILED_TO_FETCH_RSS_FEED"
	ErrCodeInvalidFeed        ErrorCode = "INVALID_RSS_FEED"
	ErrCodeInternalError      ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// APIError represents a structured error response
type APIError struct {
	Error     ErrorCode `json:"error"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// ErrorHandler writes a classified JSON error response and logs it
func ErrorHandler(w http.ResponseWriter, err error, code ErrorCode, statusCode int, requestID string) {
	if err == nil {
		err = errors.New(getErrorMessage(code))
	}

	apiErr := APIError{
		Error:     code,
		Message:   getErrorMessage(code),
		Details:   err.Error(),
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	fields := logrus.Fields{
		"error_code":  code,
		"status_code": statusCode,
		"request_id":  requestID,
		"error":       err.Error(),
	}
	if statusCode >= http.StatusInternalServerError {
		logger().WithFields(fields).Error("API error occurred")
	} else {
		logger().WithFields(fields).Warn("API error occurred")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// getErrorMessage returns a human readable message for each error code
func getErrorMessage(code ErrorCode) string {
	switch code {
	case ErrCodeFetchFailed:
		return "The feed could not be fetched"
	case ErrCodeInvalidFeed:
		return "The feed content could not be parsed"
	case ErrCodeInternalError:
		return "An internal server error occurred"
	case ErrCodeForbidden:
		return "You don't have permission to access this resource"
	case ErrCodeBadRequest:
		return "The request is invalid or malformed"
	case ErrCodeValidation:
		return "Request validation failed"
	case ErrCodeRateLimited:
		return "Rate limit exceeded. Please try again later"
	case ErrCodeServiceUnavailable:
		return "The service is temporarily unavailable"
	default:
		return "An unknown error occurred"
	}
}

// Common error response helpers
func RespondFetchFailed(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeFetchFailed, http.StatusInternalServerError, requestID)
}

func RespondInvalidFeed(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeInvalidFeed, http.StatusInternalServerError, requestID)
}

func RespondInternalError(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeInternalError, http.StatusInternalServerError, requestID)
}

func RespondForbidden(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeForbidden, http.StatusForbidden, requestID)
}

func RespondBadRequest(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeBadRequest, http.StatusBadRequest, requestID)
}

func RespondValidationError(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeValidation, http.StatusBadRequest, requestID)
}

func RespondRateLimited(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeRateLimited, http.StatusTooManyRequests, requestID)
}

func RespondServiceUnavailable(w http.ResponseWriter, err error, requestID string) {
	ErrorHandler(w, err, ErrCodeServiceUnavailable, http.StatusServiceUnavailable, requestID)
}
