package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes every error the reconciliation engine can surface.
type ErrorCode string

const (
	// CodeConfig indicates a malformed remote config or mapping. Run-fatal.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeAuth indicates a missing or rejected auth profile. Run-fatal.
	CodeAuth ErrorCode = "AUTH_ERROR"

	// CodeInvalidReference indicates a reference string that fails the provider grammar.
	CodeInvalidReference ErrorCode = "INVALID_REFERENCE_FORMAT"

	// CodeUnmappedValue indicates a value absent from a mapping's value table.
	CodeUnmappedValue ErrorCode = "UNMAPPED_VALUE"

	// CodeNotFound indicates the remote item does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeRateLimited indicates the remote throttled the request. Transient.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// CodeTimeout indicates the remote call exceeded its deadline. Transient.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRemoteValidation indicates the remote rejected the payload.
	CodeRemoteValidation ErrorCode = "REMOTE_VALIDATION"

	// CodeConcurrentRun indicates a run for the same remote is already in flight. Run-fatal.
	CodeConcurrentRun ErrorCode = "CONCURRENT_RUN"

	// CodeLocalStore indicates a local task store failure or conflict.
	CodeLocalStore ErrorCode = "LOCAL_STORE"

	// CodeInternal is used for errors that carry no code.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error is a coded error. Field and Ref are set when the error concerns
// a specific mapped field or reference.
type Error struct {
	Code    ErrorCode
	Message string
	Field   string
	Ref     string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (ref=%s)", msg, e.Ref)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with a code.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// coder is implemented by error types from other packages that map onto the
// taxonomy without being an *Error (e.g. compiler.CompileError).
type coder interface {
	ErrorCode() ErrorCode
}

// CodeOf extracts the error code. Uses errors.As to see through wrapping.
// Returns CodeInternal for errors without a code and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether the code aborts a run before any item is processed.
func IsFatal(code ErrorCode) bool {
	switch code {
	case CodeConfig, CodeAuth, CodeConcurrentRun:
		return true
	default:
		return false
	}
}

// IsTransient reports whether a failed remote call with this code may be retried.
func IsTransient(code ErrorCode) bool {
	return code == CodeRateLimited || code == CodeTimeout
}
