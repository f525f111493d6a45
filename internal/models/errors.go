package models

import (
	"errors"
	"fmt"
)

// Error codes shared by every layer.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeEmptyContent     = "EMPTY_CONTENT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInvalidInput     = "INVALID_INPUT"
)

// DomainError is an error carrying a stable code.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a DomainError without a cause.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a DomainError wrapping err.
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

var (
	ErrNotFound         = NewDomainError(CodeNotFound, "not found")
	ErrEmptyContent     = NewDomainError(CodeEmptyContent, "no analyzable content")
	ErrStoreUnavailable = NewDomainError(CodeStoreUnavailable, "store unavailable")
	ErrInvalidInput     = NewDomainError(CodeInvalidInput, "invalid input")
)

// NotFoundf returns a not-found error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return NewDomainError(CodeNotFound, fmt.Sprintf(format, args...))
}

// StoreError wraps a backend failure as ErrStoreUnavailable. Domain errors pass through unchanged.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return NewDomainErrorWithCause(CodeStoreUnavailable, op, err)
}

// ErrorCode returns the code of err, or "" if it carries none.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
