package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest builds a 400 error carrying optional details.
func BadRequest(message string, details any, err error) *AppError {
	return &AppError{Code: "BAD_REQUEST", Message: message, HTTPStatus: http.StatusBadRequest, Err: err, Details: details}
}

// NotFound builds a 404 error.
func NotFound(message string, err error) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: message, HTTPStatus: http.StatusNotFound, Err: err}
}

// Conflict builds a 409 error.
func Conflict(message string, err error) *AppError {
	return &AppError{Code: "CONFLICT", Message: message, HTTPStatus: http.StatusConflict, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// WriteError renders err using the canonical error envelope. Errors that are not
// AppErrors are reported as opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	code := appErr.Code
	if code == "" {
		code = "INTERNAL"
	}
	message := appErr.Message
	if message == "" {
		message = "internal error"
	}
	details := appErr.Details
	if appErr.Err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(appErr.Err, &syntaxErr) {
			details = map[string]any{"offset": syntaxErr.Offset}
		}
	}
	JSONError(w, status, code, message, details)
}
