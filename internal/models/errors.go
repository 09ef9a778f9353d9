package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the retrieval engine.
type ErrorKind string

const (
	KindInvalidConfiguration ErrorKind = "INVALID_CONFIGURATION"
	KindNoDocumentsFound     ErrorKind = "NO_DOCUMENTS_FOUND"
	KindDimensionMismatch    ErrorKind = "DIMENSION_MISMATCH"
	KindLengthMismatch       ErrorKind = "LENGTH_MISMATCH"
	KindEmbed                ErrorKind = "EMBED_ERROR"
	KindPersistence          ErrorKind = "PERSISTENCE_ERROR"
	KindQuery                ErrorKind = "QUERY_ERROR"
	KindInvalidVector        ErrorKind = "INVALID_VECTOR"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
// A sentinel (no message, no cause) matches every error of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Message == "" && t.Err == nil || t == e
}

// NewError creates an Error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an Error with an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrNoDocumentsFound     = &Error{Kind: KindNoDocumentsFound}
	ErrDimensionMismatch    = &Error{Kind: KindDimensionMismatch}
	ErrLengthMismatch       = &Error{Kind: KindLengthMismatch}
	ErrEmbed                = &Error{Kind: KindEmbed}
	ErrPersistence          = &Error{Kind: KindPersistence}
	ErrQuery                = &Error{Kind: KindQuery}
	ErrInvalidVector        = &Error{Kind: KindInvalidVector}
)

// KindOf returns the kind of the first classified error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
