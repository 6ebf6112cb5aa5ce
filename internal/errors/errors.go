package errors

import (
	"fmt"

	"abstat/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    codeFor(err),
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// GetCode returns the error code if it's an AppError, otherwise classifies
// the underlying domain error.
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return codeFor(err)
}

// Predefined error codes
const (
	CodeConfigInvalid        = "CONFIG_INVALID"
	CodeInsufficientData     = "INSUFFICIENT_DATA"
	CodeNumericalInstability = "NUMERICAL_INSTABILITY"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeNotFound             = "NOT_FOUND"
	CodeDatasetError         = "DATASET_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// codeFor maps domain sentinels onto transport-facing codes, so callers at
// the HTTP/CLI boundary can distinguish a bad configuration from bad data
// from a numerical failure without string matching.
func codeFor(err error) string {
	switch {
	case core.IsConfigurationError(err):
		return CodeConfigInvalid
	case core.IsInsufficientDataError(err):
		return CodeInsufficientData
	case core.IsNumericalInstabilityError(err):
		return CodeNumericalInstability
	default:
		return CodeInternalError
	}
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func DatasetError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatasetError, Message: message, Cause: cause}
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}
