package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/notPlancha/CanvasSync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired = 10
	ExitAuthExpired  = 11
	// Remote content errors (20-29)
	ExitFileNotFound     = 20
	ExitPermissionDenied = 21
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	// Local errors (50-59)
	ExitFilesystemError = 50
	ExitCorruptState    = 51
	// Sync outcome
	ExitSyncPartialFailure = 60
	ExitSyncInterrupted    = 61
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeInvalidPath        = "INVALID_PATH"
	ErrCodeFilesystem         = "FILESYSTEM_ERROR"
	ErrCodeCorruptState       = "CORRUPT_STATE"
	ErrCodeListingFailed      = "LISTING_FAILED"
	ErrCodePartialTree        = "PARTIAL_TREE"
	ErrCodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	ErrCodeSyncPartialFailure = "SYNC_PARTIAL_FAILURE"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeUnknown            = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithReason(reason string) *CLIErrorBuilder {
	b.err.Reason = reason
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeAuthRequired:       ExitAuthRequired,
		ErrCodeAuthExpired:        ExitAuthExpired,
		ErrCodePermissionDenied:   ExitPermissionDenied,
		ErrCodeFileNotFound:       ExitFileNotFound,
		ErrCodeNetworkError:       ExitNetworkError,
		ErrCodeTimeout:            ExitTimeout,
		ErrCodeRateLimited:        ExitRateLimited,
		ErrCodeInvalidArgument:    ExitInvalidArgument,
		ErrCodeInvalidPath:        ExitInvalidPath,
		ErrCodeFilesystem:         ExitFilesystemError,
		ErrCodeCorruptState:       ExitCorruptState,
		ErrCodeSyncPartialFailure: ExitSyncPartialFailure,
		ErrCodeCancelled:          ExitSyncInterrupted,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
	cause    error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// WrapAppError creates an AppError that keeps err reachable through errors.Is/As
func WrapAppError(cliErr types.CLIError, err error) *AppError {
	return &AppError{CLIError: cliErr, cause: err}
}

// ErrorCode returns the stable code carried by err, or ErrCodeUnknown
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.Code
	}
	if errors.Is(err, context.Canceled) {
		return ErrCodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeUnknown
}

// IsAuthError reports whether err means the credential was rejected
func IsAuthError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeAuthRequired, ErrCodeAuthExpired:
		return true
	}
	return false
}

// IsNotFound reports whether err means the remote node no longer exists
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeFileNotFound
}

// IsRetryable reports whether err is worth another attempt. A bare
// context.DeadlineExceeded counts as a timeout; telling it apart from a
// cancelled run is up to the caller.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.CLIError.Retryable {
		return true
	}
	switch ErrorCode(err) {
	case ErrCodeNetworkError, ErrCodeRateLimited, ErrCodeTimeout, ErrCodeChecksumMismatch:
		return true
	}
	return false
}

// NewFilesystemError wraps a local I/O failure
func NewFilesystemError(op, path string, err error) *AppError {
	return WrapAppError(NewCLIError(ErrCodeFilesystem, fmt.Sprintf("%s %s: %v", op, path, err)).
		WithContext("path", path).
		WithContext("op", op).
		Build(), err)
}
