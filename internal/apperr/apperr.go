package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeNoContent       = "NO_CONTENT"
	CodeReasoningFailed = "REASONING_FAILED"
	CodeFeatureDisabled = "FEATURE_DISABLED"
	CodeInternal        = "INTERNAL_ERROR"

	// Document-level codes. These are reported in result metadata, never as a request failure.
	CodeFetchFailed  = "FETCH_FAILED"
	CodeDecodeFailed = "DECODE_FAILED"
)

// Error is a request-level failure with a stable code and a human-readable message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func InvalidRequest(format string, args ...any) *Error {
	return New(CodeInvalidRequest, fmt.Sprintf(format, args...))
}

func NoContent(message string, err error) *Error {
	return Wrap(CodeNoContent, message, err)
}

func ReasoningFailed(stage string, err error) *Error {
	return Wrap(CodeReasoningFailed, fmt.Sprintf("reasoning capability failed during %s", stage), err)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, err)
}

// From returns the *Error in err's chain, or an INTERNAL_ERROR wrapping err.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("Internal Server Error", err)
}

// HTTPStatus maps an error code onto the status the transport should answer with.
func HTTPStatus(code string) int {
	switch code {
	case CodeInvalidRequest, CodeDecodeFailed:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNoContent:
		return http.StatusUnprocessableEntity
	case CodeReasoningFailed, CodeFetchFailed:
		return http.StatusBadGateway
	case CodeFeatureDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
