// Package ierrors defines the error taxonomy shared across Iris (spec §7).
package ierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind distinguishes the taxonomy defined in spec §7.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConfiguration  Kind = "CONFIGURATION_ERROR"
	KindProcess        Kind = "PROCESS_ERROR"
	KindTimeout        Kind = "TIMEOUT_ERROR"
	KindInvalidState   Kind = "INVALID_STATE_ERROR"
	KindPoolFull       Kind = "POOL_FULL"
)

// AppError is a typed error carrying enough context for callers to act on
// it without inspecting message text.
type AppError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func new(kind Kind, status int, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), HTTPStatus: status}
}

// Validation reports a malformed caller input (team name, timeout, etc).
func Validation(format string, args ...any) *AppError {
	return new(KindValidation, http.StatusBadRequest, format, args...)
}

// Configuration reports an unknown team or a missing/invalid config value.
func Configuration(format string, args ...any) *AppError {
	return new(KindConfiguration, http.StatusUnprocessableEntity, format, args...)
}

// Process wraps a spawn/SSH/child-exit failure.
func Process(err error, format string, args ...any) *AppError {
	e := new(KindProcess, http.StatusBadGateway, format, args...)
	e.Err = err
	return e
}

// Timeout reports the spawn init wait exceeding its deadline.
func Timeout(format string, args ...any) *AppError {
	return new(KindTimeout, http.StatusGatewayTimeout, format, args...)
}

// InvalidState reports a programming error: an operation attempted outside
// its documented precondition (e.g. executeTell on a non-READY transport).
func InvalidState(format string, args ...any) *AppError {
	return new(KindInvalidState, http.StatusConflict, format, args...)
}

// PoolFull reports that every pool slot is occupied by an in-flight
// transport and none could be evicted.
func PoolFull(key string) *AppError {
	return new(KindPoolFull, http.StatusServiceUnavailable, "process pool is full, no idle transport to evict for %s", key)
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// HTTPStatus returns the mapped HTTP status, or 500 for untyped errors.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
