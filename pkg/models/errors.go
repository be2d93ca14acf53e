package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable classification tag carried by every core error.
type ErrorKind string

const (
	KindSessionNotFound  ErrorKind = "SESSION_NOT_FOUND"
	KindCapacityExceeded ErrorKind = "CAPACITY_EXCEEDED"
	KindCommandNotFound  ErrorKind = "COMMAND_NOT_FOUND"
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindProxyValidation  ErrorKind = "PROXY_VALIDATION_ERROR"
	KindTimeout          ErrorKind = "TIMEOUT"
	KindElementNotFound  ErrorKind = "ELEMENT_NOT_FOUND"
	KindExecution        ErrorKind = "EXECUTION_ERROR"
)

// Error is the single error type crossing component boundaries. Kind is
// stable and machine-readable; Message is for humans. ProxyValidation
// errors additionally carry the list of specific sub-violations so callers
// don't have to debug by trial and error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Reasons []string  `json:"reasons,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if len(e.Reasons) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, strings.Join(e.Reasons, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error while preserving it for Unwrap.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NewProxyValidationError carries the full list of sub-violations.
func NewProxyValidationError(reasons []string) *Error {
	return &Error{
		Kind:    KindProxyValidation,
		Message: "invalid proxy configuration",
		Reasons: reasons,
	}
}

// KindOf extracts the classification of err, or KindExecution if err is not
// a classified error. Returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

// AsError normalizes any error into a classified *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindExecution, Message: err.Error(), cause: err}
}
