// Package errors provides structured error handling for the application.
// It defines AppError type with error codes for consistent API responses.
package errors

import (
	"errors"
	"fmt"
)

// Error codes organized by category
const (
	// General errors (1000-1099)
	CodeSuccess       = 0
	CodeUnknown       = 1000
	CodeInvalidParams = 1001
	CodeNotFound      = 1002
	CodeUnauthorized  = 1003

	// Submission errors (1100-1199)
	CodeUnknownSurveyType = 1100
	CodeBadSourceZip      = 1101
	CodeNoRegistryZip     = 1102
	CodeUploadFailed      = 1103
	CodePreflightFailed   = 1104
	CodeQueueSaturated    = 1105

	// Engine errors (1200-1299)
	CodeEngineUnavailable = 1200
	CodeEngineStepFailed  = 1201
	CodeEngineBadResult   = 1202

	// Job lifecycle errors (1300-1399)
	CodeJobNotFound    = 1300
	CodeJobNotRunning  = 1301
	CodeJobNotComplete = 1302

	// Storage errors (1400-1499)
	CodeDBError        = 1400
	CodeFileNotFound   = 1401
	CodeFileWriteError = 1402

	// Registry errors (1500-1599)
	CodeRegistryEmpty = 1500
	CodeRegistryScan  = 1501

	// Packaging errors (1600-1699)
	CodePackagingFailed = 1600
	CodeNothingToPack   = 1601
)

// AppError represents a structured application error
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code int, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetail wraps an error with additional detail
func WrapWithDetail(code int, message string, detail string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
	}
}

// Is checks if the target error is an AppError with the specified code
func Is(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts error code from error, returns CodeUnknown if not AppError
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetMessage extracts message from error
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Predefined common errors
var (
	ErrInvalidParams = New(CodeInvalidParams, "Invalid parameters")
	ErrNotFound      = New(CodeNotFound, "Resource not found")
	ErrUnauthorized  = New(CodeUnauthorized, "Unauthorized")

	// Submission
	ErrUnknownSurveyType = New(CodeUnknownSurveyType, "Unknown survey type")
	ErrNoRegistryZip     = New(CodeNoRegistryZip, "No geodatabase zip available in registry")
	ErrQueueSaturated    = New(CodeQueueSaturated, "Job queue is full, retry later")

	// Engine
	ErrEngineUnavailable = New(CodeEngineUnavailable, "Processing engine unavailable")
	ErrEngineBadResult   = New(CodeEngineBadResult, "Processing engine returned a malformed result")

	// Job lifecycle
	ErrJobNotFound    = New(CodeJobNotFound, "Job not found")
	ErrJobNotComplete = New(CodeJobNotComplete, "Job has no result yet")

	// Storage
	ErrDBError      = New(CodeDBError, "Database error")
	ErrFileNotFound = New(CodeFileNotFound, "File not found")

	// Registry
	ErrRegistryEmpty = New(CodeRegistryEmpty, "Registry has no candidate zips")
)
