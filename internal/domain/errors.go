package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for the API response contract. The names
// are the error_type values surfaced in error response bodies.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "AuthenticationError"
	KindLookup         ErrorKind = "LookupError"
	KindValidation     ErrorKind = "ValidationError"
	KindDependency     ErrorKind = "DependencyError"
	KindUnexpected     ErrorKind = "UnexpectedError"
)

// HTTPStatus maps the kind to its response status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindLookup:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error is a classified failure. A wrapped cause, when present, stays
// reachable through errors.Is and errors.As.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds a classified error; %v and %w behave as in fmt.Errorf.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Cause: errors.Unwrap(wrapped)}
}

// KindOf extracts the kind from any error. Unclassified errors are
// unexpected by definition.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// HTTPStatus maps any error to the response status code for its kind.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}
