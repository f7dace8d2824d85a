package mediasink

import (
	"errors"
	"fmt"
)

// ErrorCode classifies sink operation failures. The recovery logic in the
// stream package dispatches on these codes, so the set is closed: anything
// the sink cannot attribute precisely is reported as ErrorCodeUnknown.
type ErrorCode int

const (
	// ErrorCodeUnknown is a failure with no more specific classification.
	ErrorCodeUnknown ErrorCode = iota
	// ErrorCodeQuotaExceeded means an append would exceed the buffer quota.
	ErrorCodeQuotaExceeded
	// ErrorCodeInvalidState means the operation is not legal in the current
	// sink or buffer state.
	ErrorCodeInvalidState
	// ErrorCodeNotSupported means the requested format is not supported.
	ErrorCodeNotSupported
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeQuotaExceeded:
		return "quota-exceeded"
	case ErrorCodeInvalidState:
		return "invalid-state"
	case ErrorCodeNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Error is a classified sink failure.
type Error struct {
	Code ErrorCode
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("mediasink: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("mediasink: %s: %s: %s", e.Op, e.Code, e.Msg)
}

func newError(code ErrorCode, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// CodeOf extracts the classification from an error. Errors that did not
// originate from the sink classify as ErrorCodeUnknown.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrorCodeUnknown
}

// IsQuotaExceeded reports whether err is a quota failure.
func IsQuotaExceeded(err error) bool {
	return CodeOf(err) == ErrorCodeQuotaExceeded
}

// IsInvalidState reports whether err is an invalid-state failure.
func IsInvalidState(err error) bool {
	return CodeOf(err) == ErrorCodeInvalidState
}

// IsNotSupported reports whether err is an unsupported-format failure.
func IsNotSupported(err error) bool {
	return CodeOf(err) == ErrorCodeNotSupported
}

// ErrReaderClosed is returned from reads on a closed reader.
var ErrReaderClosed = errors.New("mediasink: reader closed")
