// Package apperrors provides the error kinds used across the orchestration
// core (spec §7): NotFound, InvalidState, AlreadyExists, ResourceUnavailable,
// ExternalToolFailed, Timeout, ParseError, Persistence, Auth, and
// AdmissionDenied (never surfaced to the user — callers retry on next poll).
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure, independent of its message.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeResourceUnavailable Code = "RESOURCE_UNAVAILABLE"
	CodeExternalToolFailed Code = "EXTERNAL_TOOL_FAILED"
	CodeTimeout            Code = "TIMEOUT"
	CodeParseError         Code = "PARSE_ERROR"
	CodePersistence        Code = "PERSISTENCE"
	CodeAuth               Code = "AUTH"
	CodeAdmissionDenied    Code = "ADMISSION_DENIED"
)

// AppError is the single error type returned from core operations.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func newErr(code Code, status int, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, HTTPStatus: status, Err: err}
}

func NotFound(resource, id string) *AppError {
	return newErr(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %q not found", resource, id), nil)
}

func InvalidState(msg string) *AppError {
	return newErr(CodeInvalidState, http.StatusConflict, msg, nil)
}

func AlreadyExists(resource, id string) *AppError {
	return newErr(CodeAlreadyExists, http.StatusConflict, fmt.Sprintf("%s %q already exists", resource, id), nil)
}

func ResourceUnavailable(msg string) *AppError {
	return newErr(CodeResourceUnavailable, http.StatusServiceUnavailable, msg, nil)
}

func ExternalToolFailed(tool string, err error) *AppError {
	return newErr(CodeExternalToolFailed, http.StatusBadGateway, fmt.Sprintf("%s failed", tool), err)
}

func Timeout(msg string) *AppError {
	return newErr(CodeTimeout, http.StatusGatewayTimeout, msg, nil)
}

func ParseError(msg string, err error) *AppError {
	return newErr(CodeParseError, http.StatusBadGateway, msg, err)
}

func Persistence(msg string, err error) *AppError {
	return newErr(CodePersistence, http.StatusInternalServerError, msg, err)
}

func Auth(msg string) *AppError {
	return newErr(CodeAuth, http.StatusUnauthorized, msg, nil)
}

// AdmissionDenied is never surfaced to the caller as a user-visible error;
// it signals the poll loop to retry on the next tick (spec §4.10, §7).
func AdmissionDenied(msg string) *AppError {
	return newErr(CodeAdmissionDenied, http.StatusTooManyRequests, msg, nil)
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// HTTPStatus extracts the HTTP status for err, defaulting to 500.
func HTTPStatus(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.HTTPStatus
	}
	return http.StatusInternalServerError
}
