// Package errors provides error code definitions for the appdeck sync core.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode represents a unique application error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Local durable storage errors
	ErrStorageDecode ErrorCode = "STORAGE_DECODE"

	// Catalog errors
	ErrCategoryNotFound   ErrorCode = "CATEGORY_NOT_FOUND"
	ErrCategoryDuplicate  ErrorCode = "CATEGORY_DUPLICATE"
	ErrCategoryPredefined ErrorCode = "CATEGORY_PREDEFINED"
	ErrAssignmentNotFound ErrorCode = "ASSIGNMENT_NOT_FOUND"

	// Sync errors
	ErrSyncDisabled             ErrorCode = "SYNC_DISABLED"
	ErrSyncFailed               ErrorCode = "SYNC_FAILED"
	ErrSyncOffline              ErrorCode = "SYNC_OFFLINE"
	ErrSyncTimeout              ErrorCode = "SYNC_TIMEOUT"
	ErrSyncConflict             ErrorCode = "SYNC_CONFLICT"
	ErrSyncRecordDecode         ErrorCode = "SYNC_RECORD_DECODE"
	ErrSyncAccountUnavailable   ErrorCode = "SYNC_ACCOUNT_UNAVAILABLE"
	ErrSyncBackendMisconfigured ErrorCode = "SYNC_BACKEND_MISCONFIGURED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error, or ErrInternal if none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// backendConfigMarkers are substrings of remote-store error text that
// indicate a backend configuration problem (missing entitlement, bad
// container) rather than a transient failure. A match disables sync
// persistently until the user re-enables it.
var backendConfigMarkers = []string{
	"entitlement",
	"bad container",
	"container not found",
	"not configured",
	"misconfigured",
}

// IsBackendConfig reports whether the error indicates a backend
// configuration problem.
func IsBackendConfig(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrSyncBackendMisconfigured) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range backendConfigMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsConnectivity reports whether the error is attributable to connectivity:
// offline state, call timeout, or a network-level failure.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrSyncOffline) || Is(err, ErrSyncTimeout) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	return false
}
