// Package bizerror defines the typed errors surfaced by the dispensing
// engine for expected business conditions. Stock shortfalls, state
// mismatches and validation failures are named outcomes, not panics.
package bizerror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable identifier for a business error.
type Code string

const (
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeOverRelease            Code = "OVER_RELEASE"
	CodeNotEligible            Code = "NOT_ELIGIBLE"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodePrescriptionExpired    Code = "PRESCRIPTION_EXPIRED"
	CodeAlreadyExists          Code = "ALREADY_EXISTS"
	CodeConcurrencyConflict    Code = "CONCURRENCY_CONFLICT"
	CodeIntegrityFault         Code = "INTEGRITY_FAULT"
)

// Error carries a stable code plus a human-readable reason.
type Error struct {
	Code   Code
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// New builds a business error with a formatted reason.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Is matches on code so callers can compare against sentinel shapes.
func (e *Error) Is(target error) bool {
	var be *Error
	if errors.As(target, &be) {
		return e.Code == be.Code
	}
	return false
}

// CodeOf extracts the business code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsCode reports whether err carries the given business code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the caller may retry the operation.
func Retryable(err error) bool {
	return IsCode(err, CodeConcurrencyConflict)
}

// HTTPStatus maps a business code to the HTTP status handlers respond with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput, CodePrescriptionExpired:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeInsufficientStock, CodeOverRelease, CodeNotEligible, CodeInvalidStateTransition:
		return http.StatusUnprocessableEntity
	case CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeIntegrityFault:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
