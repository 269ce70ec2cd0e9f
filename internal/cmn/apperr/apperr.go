// Package apperr defines the domain error taxonomy shared by all
// components. Infrastructure failures are mapped onto these codes at the
// boundaries; the HTTP projection lives in HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of user-visible failure.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeTypeMismatch       Code = "TYPE_MISMATCH"
	CodeConfigKeysMismatch Code = "CONFIG_KEYS_MISMATCH"
	CodeCyclic             Code = "CYCLIC"
	CodeDisconnected       Code = "DISCONNECTED"
	CodeManifestInvalid    Code = "MANIFEST_INVALID"
	CodeManifestNotFound   Code = "MANIFEST_NOT_FOUND"
	CodeRepoUnreachable    Code = "REPO_UNREACHABLE"
	CodeTemplateInvalid    Code = "TEMPLATE_INVALID"
	CodeTemplateCyclic     Code = "TEMPLATE_CYCLIC"
	CodeMissingConfig      Code = "MISSING_CONFIG"
	CodeEmptyProject       Code = "EMPTY_PROJECT"
	CodeUpstreamFailure    Code = "UPSTREAM_FAILURE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeConflict           Code = "CONFLICT"
	CodeUnprocessable      Code = "UNPROCESSABLE"
	CodeInternal           Code = "INTERNAL"
)

// Error is a domain error carrying a taxonomy code, a single-line
// message and an optional structured payload for the client.
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that records err as its cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// WithDetails attaches a structured payload to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf returns the taxonomy code of err, or CodeInternal for
// untagged errors.
func CodeOf(err error) Code {
	if e := As(err); e != nil {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus projects a code onto an HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTypeMismatch, CodeCyclic, CodeDisconnected:
		return http.StatusBadRequest
	case CodeConfigKeysMismatch, CodeManifestInvalid, CodeManifestNotFound,
		CodeRepoUnreachable, CodeTemplateInvalid, CodeTemplateCyclic,
		CodeMissingConfig, CodeEmptyProject, CodeUnprocessable:
		return http.StatusUnprocessableEntity
	case CodeUpstreamFailure:
		return http.StatusBadGateway
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
