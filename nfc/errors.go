package nfc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies the kind of failure for programmatic handling.
//
// The set is closed: every error returned by a Manager carries one of the
// codes below.
type ErrorCode string

const (
	ErrCodeNotSupported          ErrorCode = "NOT_SUPPORTED"
	ErrCodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
	ErrCodeInvalidTarget         ErrorCode = "INVALID_TARGET"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeAbort                 ErrorCode = "ABORT"
	ErrCodeSyntaxError           ErrorCode = "SYNTAX_ERROR"
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeNoData                ErrorCode = "NO_DATA"
	ErrCodeReaderNotStarted      ErrorCode = "READER_NOT_STARTED"
	ErrCodeUnsupportedOperation  ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeUnsupportedRecordType ErrorCode = "UNSUPPORTED_RECORD_TYPE"
)

// AllErrorCodes returns every code of the taxonomy.
func AllErrorCodes() []ErrorCode {
	return []ErrorCode{
		ErrCodeNotSupported,
		ErrCodePermissionDenied,
		ErrCodeInvalidTarget,
		ErrCodeTimeout,
		ErrCodeAbort,
		ErrCodeSyntaxError,
		ErrCodeNetworkError,
		ErrCodeNoData,
		ErrCodeReaderNotStarted,
		ErrCodeUnsupportedOperation,
		ErrCodeUnsupportedRecordType,
	}
}

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Scan", "Write")
	Message string // Human-readable message
	Cause   error  // Original host-level error, kept for diagnostics
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an NFCError with the same code, so that
// errors.Is(err, nfc.ErrTimeout) works regardless of message or op.
func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotSupported          = &NFCError{Code: ErrCodeNotSupported, Message: "NFC is not supported on this host"}
	ErrPermissionDenied      = &NFCError{Code: ErrCodePermissionDenied, Message: "permission denied"}
	ErrInvalidTarget         = &NFCError{Code: ErrCodeInvalidTarget, Message: "invalid target"}
	ErrTimeout               = &NFCError{Code: ErrCodeTimeout, Message: "operation timed out"}
	ErrAbort                 = &NFCError{Code: ErrCodeAbort, Message: "operation aborted"}
	ErrSyntax                = &NFCError{Code: ErrCodeSyntaxError, Message: "syntax error"}
	ErrNetwork               = &NFCError{Code: ErrCodeNetworkError, Message: "network error"}
	ErrNoData                = &NFCError{Code: ErrCodeNoData, Message: "no data"}
	ErrReaderNotStarted      = &NFCError{Code: ErrCodeReaderNotStarted, Message: "reader not started"}
	ErrUnsupportedOperation  = &NFCError{Code: ErrCodeUnsupportedOperation, Message: "operation not supported"}
	ErrUnsupportedRecordType = &NFCError{Code: ErrCodeUnsupportedRecordType, Message: "unsupported record type"}
)

// NewError creates an NFCError without an underlying cause.
func NewError(code ErrorCode, op, message string) *NFCError {
	return &NFCError{Code: code, Op: op, Message: message}
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns "" if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return ""
}

// IsTimeoutError checks if an error carries the TIMEOUT code.
func IsTimeoutError(err error) bool {
	return GetErrorCode(err) == ErrCodeTimeout
}

// IsAbortError checks if an error carries the ABORT code.
func IsAbortError(err error) bool {
	return GetErrorCode(err) == ErrCodeAbort
}

// IsNotSupportedError checks if an error carries the NOT_SUPPORTED code.
func IsNotSupportedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotSupported
}

// HostError is implemented by failures raised by a host capability that carry
// a DOMException-style name such as "NotSupportedError".
type HostError interface {
	error
	Name() string
}

// Host error names understood by Normalize.
const (
	HostErrNotSupported  = "NotSupportedError"
	HostErrSecurity      = "SecurityError"
	HostErrInvalidTarget = "InvalidTargetError"
	HostErrTimeout       = "TimeoutError"
	HostErrAbort         = "AbortError"
	HostErrSyntax        = "SyntaxError"
	HostErrNetwork       = "NetworkError"
)

var hostErrorCodes = map[string]ErrorCode{
	HostErrNotSupported:  ErrCodeNotSupported,
	HostErrSecurity:      ErrCodePermissionDenied,
	HostErrInvalidTarget: ErrCodeInvalidTarget,
	HostErrTimeout:       ErrCodeTimeout,
	HostErrAbort:         ErrCodeAbort,
	HostErrSyntax:        ErrCodeSyntaxError,
	HostErrNetwork:       ErrCodeNetworkError,
}

// HostErr is a concrete HostError for host implementations.
type HostErr struct {
	ErrName string `json:"name"`
	Message string `json:"message"`
}

// NewHostError creates a HostErr with the given name and message.
func NewHostError(name, message string) *HostErr {
	return &HostErr{ErrName: name, Message: message}
}

func (e *HostErr) Error() string {
	if e.Message == "" {
		return e.ErrName
	}
	return e.ErrName + ": " + e.Message
}

func (e *HostErr) Name() string {
	return e.ErrName
}

// Normalize maps any failure value into an NFCError.
//
// An NFCError anywhere in the chain is returned unchanged. Named host errors
// go through a fixed name table; anything unrecognized becomes NETWORK_ERROR
// with the original kept as Cause. A plain string becomes the message.
func Normalize(op string, v any) *NFCError {
	switch err := v.(type) {
	case nil:
		return nil
	case string:
		return NewError(ErrCodeNetworkError, op, err)
	case error:
		var nfcErr *NFCError
		if errors.As(err, &nfcErr) {
			return nfcErr
		}
		var hostErr HostError
		if errors.As(err, &hostErr) {
			code, ok := hostErrorCodes[hostErr.Name()]
			if !ok {
				code = ErrCodeNetworkError
			}
			return WrapError(code, op, "host operation failed", err)
		}
		switch {
		case errors.Is(err, context.Canceled):
			return WrapError(ErrCodeAbort, op, "operation aborted", err)
		case errors.Is(err, context.DeadlineExceeded):
			return WrapError(ErrCodeTimeout, op, "operation timed out", err)
		}
		return WrapError(ErrCodeNetworkError, op, "host operation failed", err)
	default:
		return NewError(ErrCodeNetworkError, op, "unknown error")
	}
}
