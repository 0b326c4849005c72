// Package connectsdk implements a printer-side SDK for Prusa Connect:
// registration, the cooperative telemetry/event/command loop, a
// virtual filesystem over mounted storages, and file transfers.
package connectsdk

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a high-level error category, the equivalent of the
// teacher's UblkErrorCode: a stable value callers can branch on
// without string-matching Error.Msg.
type Code string

const (
	CodeNetworkUnavailable    Code = "network unavailable"
	CodeHTTPStatus4xx         Code = "http 4xx"
	CodeHTTPStatus5xx         Code = "http 5xx"
	CodeUnregistered          Code = "unregistered"
	CodeNoToken               Code = "no token"
	CodeCommandRejected       Code = "command rejected"
	CodeHandlerFailure        Code = "handler failure"
	CodeFilesystemInvalid     Code = "filesystem invalid"
	CodeTransferTimeout       Code = "transfer timeout"
	CodeTransferAborted       Code = "transfer aborted"
	CodeMetadataExtractFailed Code = "metadata extraction failed"
)

// Error is a structured SDK error with context, shaped after the
// teacher's own *Error/UblkErrorCode split: Op names the operation
// that failed, Code is the stable category, Msg is the human-readable
// detail. Unwrap/Is give errors.As/errors.Is compatibility against
// both *Error-to-*Error and bare Code comparisons.
type Error struct {
	Op      string // Operation that failed (e.g. "Register", "Dispatch", "Transfer")
	Code    Code
	Msg     string
	Printer string // Printer serial, if applicable ("" if not)
	Inner   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Printer != "" {
		parts = append(parts, fmt.Sprintf("printer=%s", e.Printer))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("connectsdk: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("connectsdk: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is reports whether target matches e by Code, supporting both
// *Error-to-*Error comparisons and bare Code comparisons (so callers
// can write errors.Is(err, connectsdk.CodeNoToken)).
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Error implements the error interface for Code, so a bare Code can be
// passed as the target of errors.Is against an *Error (the comparison
// itself is done by (*Error).Is) and used anywhere an error is
// expected, e.g. as a sentinel in tests.
func (c Code) Error() string { return string(c) }

// NewError creates a structured error.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewPrinterError creates a structured error scoped to a printer
// serial number.
func NewPrinterError(op, printer string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Printer: printer}
}

// WrapError wraps inner with op and code, preserving inner for
// errors.Unwrap. If inner is already a *Error, its Code and Printer
// are carried forward rather than overwritten, same as the teacher's
// WrapError preserving DevID/Queue/Errno across a re-wrap.
func WrapError(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	if se, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: se.Code, Msg: se.Msg, Printer: se.Printer, Inner: se.Inner}
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or anything it wraps) is a *Error with
// the given Code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// Sentinel errors for conditions common enough that callers compare
// against them directly with errors.Is, mirroring the teacher's
// legacy UblkError constants.
var (
	ErrUnregistered    = NewError("", CodeUnregistered, "printer is not registered")
	ErrNoToken         = NewError("", CodeNoToken, "printer has no permanent token yet")
	ErrCommandRejected = NewError("", CodeCommandRejected, "command was rejected")
)
