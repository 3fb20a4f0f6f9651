// Package errors provides the canonical error taxonomy for the paywall service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the paywall service.
type ErrorCode string

const (
	// Validation errors
	OTT_VALIDATION ErrorCode = "OTT_VALIDATION" // Input failed validation; Field names the offender

	// Authentication/Authorization errors
	OTT_AUTHN     ErrorCode = "OTT_AUTHN"     // Missing or invalid credentials
	OTT_AUTHZ     ErrorCode = "OTT_AUTHZ"     // Caller may not act on the resource
	OTT_SIGNATURE ErrorCode = "OTT_SIGNATURE" // Provider callback signature did not verify

	// Resource errors
	OTT_NOT_FOUND ErrorCode = "OTT_NOT_FOUND" // Resource not found
	OTT_CONFLICT  ErrorCode = "OTT_CONFLICT"  // Uniqueness or state conflict

	// Gateway errors
	OTT_GATEWAY_UNAVAILABLE ErrorCode = "OTT_GATEWAY_UNAVAILABLE" // Provider not configured or unreachable
	OTT_GATEWAY_TIMEOUT     ErrorCode = "OTT_GATEWAY_TIMEOUT"     // Provider did not answer in time
	OTT_GATEWAY_ERROR       ErrorCode = "OTT_GATEWAY_ERROR"       // Provider rejected the request or answered garbage

	// Rate limiting
	OTT_RATE_LIMIT ErrorCode = "OTT_RATE_LIMIT" // Rate limit exceeded

	// Server errors
	OTT_INTERNAL    ErrorCode = "OTT_INTERNAL"    // Internal server error
	OTT_UNAVAILABLE ErrorCode = "OTT_UNAVAILABLE" // Service unavailable
)

// RetryOtherGatewayMessage is the caller-facing text for every gateway failure.
const RetryOtherGatewayMessage = "payment provider is unavailable, try another payment method"

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	Field         string      `json:"field,omitempty"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
	cause         error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Validation reports an invalid input field.
func Validation(field, message string) *Error {
	e := New(OTT_VALIDATION, message, "")
	e.Field = field
	return e
}

// NotFound reports a missing resource.
func NotFound(message string) *Error { return New(OTT_NOT_FOUND, message, "") }

// Conflict reports a uniqueness or state conflict.
func Conflict(message string) *Error { return New(OTT_CONFLICT, message, "") }

// Signature reports a callback whose authenticity could not be established.
func Signature(gateway string, cause error) *Error {
	e := NewWithDetails(OTT_SIGNATURE, "callback signature verification failed", "", map[string]any{"gateway": gateway})
	e.cause = cause
	return e
}

// GatewayUnavailable reports a provider that is not configured or cannot be reached.
func GatewayUnavailable(gateway string, cause error) *Error {
	return gatewayError(OTT_GATEWAY_UNAVAILABLE, gateway, cause)
}

// GatewayTimeout reports a provider call that exceeded its deadline.
func GatewayTimeout(gateway string, cause error) *Error {
	return gatewayError(OTT_GATEWAY_TIMEOUT, gateway, cause)
}

// GatewayFailed reports a provider that answered with an error or an unexpected shape.
func GatewayFailed(gateway string, cause error) *Error {
	return gatewayError(OTT_GATEWAY_ERROR, gateway, cause)
}

func gatewayError(code ErrorCode, gateway string, cause error) *Error {
	e := NewWithDetails(code, RetryOtherGatewayMessage, "", map[string]any{
		"gateway":               gateway,
		"retryWithOtherGateway": true,
	})
	e.cause = cause
	return e
}

// Wrap attaches an underlying cause, kept out of the JSON body.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// WithCorrelation stamps the request correlation id on the error.
func (e *Error) WithCorrelation(correlationID string) *Error {
	e.CorrelationID = correlationID
	return e
}

// WithDetail adds a single key to map details.
func (e *Error) WithDetail(key string, value any) *Error {
	m, ok := e.Details.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m[key] = value
	e.Details = m
	return e
}

// WithStatus overrides the HTTP status derived from the code.
func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so callers can compare against a bare New(code, "", "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// From extracts an *Error from err, or wraps it as an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(OTT_INTERNAL, "internal error", "").Wrap(err)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Code == code
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case OTT_VALIDATION:
		return http.StatusBadRequest
	case OTT_AUTHZ:
		return http.StatusForbidden
	case OTT_AUTHN, OTT_SIGNATURE:
		return http.StatusUnauthorized
	case OTT_NOT_FOUND:
		return http.StatusNotFound
	case OTT_CONFLICT:
		return http.StatusConflict
	case OTT_RATE_LIMIT:
		return http.StatusTooManyRequests
	case OTT_GATEWAY_UNAVAILABLE, OTT_UNAVAILABLE:
		return http.StatusServiceUnavailable
	case OTT_GATEWAY_TIMEOUT:
		return http.StatusGatewayTimeout
	case OTT_GATEWAY_ERROR:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
