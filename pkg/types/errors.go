package types

import "fmt"

// ErrorCode is the normalized error taxonomy. It is the single source of
// truth: every provider maps its raw failures into this set before anything
// crosses a component boundary.
type ErrorCode string

const (
	ErrAuth                 ErrorCode = "AUTH"
	ErrRateLimit            ErrorCode = "RATE_LIMIT"
	ErrQuota                ErrorCode = "QUOTA"
	ErrInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrProviderUnavailable  ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrOperationUnsupported ErrorCode = "OPERATION_UNSUPPORTED"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrInternal             ErrorCode = "INTERNAL"
)

// Error is a normalized failure with a stable code and a human-readable
// message. Details are optional and omitted in production responses.
type Error struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the dispatcher may retry this failure.
// AUTH, NOT_FOUND, INVALID_INPUT, QUOTA and OPERATION_UNSUPPORTED fail fast.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrRateLimit, ErrProviderUnavailable, ErrTimeout:
		return true
	}
	return false
}

// NewError builds a normalized error.
func NewError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf builds a normalized error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a normalized *Error from err, wrapping anything else as
// INTERNAL so raw errors never leak past a component boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(*Error); ok {
		return ne
	}
	return &Error{Code: ErrInternal, Message: err.Error()}
}
