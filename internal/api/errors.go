package api

import (
	"fmt"
	"net/http"
)

// Kind classifies API errors into the stable wire taxonomy
type Kind string

// Error kinds
const (
	KindInvalidRequest   Kind = "invalid_request"
	KindInternal         Kind = "internal"
	KindDeadlineExceeded Kind = "deadline_exceeded"
)

// Error represents an API error with its wire kind
type Error struct {
	Kind    Kind
	Message string
}

// NewError creates a new API error
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status maps the error kind to an HTTP status code
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// body is the stable JSON error body clients retry against
func (e *Error) body() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{
			"kind":    string(e.Kind),
			"message": e.Message,
		},
	}
}
