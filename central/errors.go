package central

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of control-plane errors
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork represents transport failures (unreachable, timeout, broken body)
	ErrorTypeNetwork
	// ErrorTypeAuthentication represents a 401/403 from the control plane
	ErrorTypeAuthentication
	// ErrorTypeAPI represents any other non-success response
	ErrorTypeAPI
	// ErrorTypeSigning represents a failure to produce the bearer token; the request was not sent
	ErrorTypeSigning
	// ErrorTypeValidation represents bad arguments or an undecodable payload
	ErrorTypeValidation
	// ErrorTypeStorage represents a failure to stage a fetched artifact on disk
	ErrorTypeStorage
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeAPI:
		return "api"
	case ErrorTypeSigning:
		return "signing"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a structured control-plane error with type information
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

func newError(errorType ErrorType, message string, cause error) *Error {
	return &Error{Type: errorType, Message: message, Cause: cause}
}

func isType(err error, errorType ErrorType) bool {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.IsType(errorType)
	}
	return false
}

// IsNetworkError checks if an error is transport-related
func IsNetworkError(err error) bool { return isType(err, ErrorTypeNetwork) }

// IsAuthenticationError checks if the control plane rejected our token
func IsAuthenticationError(err error) bool { return isType(err, ErrorTypeAuthentication) }

// IsAPIError checks if an error is a non-success response
func IsAPIError(err error) bool { return isType(err, ErrorTypeAPI) }

// IsSigningError checks if the bearer token could not be produced
func IsSigningError(err error) bool { return isType(err, ErrorTypeSigning) }

// IsTransportError reports whether err means the control plane could not be
// reached or answered with a non-success status.
func IsTransportError(err error) bool {
	return IsNetworkError(err) || IsAuthenticationError(err) || IsAPIError(err)
}

// wrapHTTPError wraps a non-success HTTP response into an appropriate Error type
func wrapHTTPError(resp *http.Response, message string) *Error {
	msg := fmt.Sprintf("%s: %s", message, resp.Status)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Type: ErrorTypeAuthentication, Message: msg, StatusCode: resp.StatusCode}
	default:
		return &Error{Type: ErrorTypeAPI, Message: msg, StatusCode: resp.StatusCode}
	}
}
