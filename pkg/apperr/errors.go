// Package apperr defines the request-scoped failure kinds shared by the inventory and order
// packages. Every failure aborts and rolls back the operation that produced it.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and transports.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation_error"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindUnavailable       Kind = "unavailable"
	KindUnknown           Kind = "unknown"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnavailable       = errors.New("unavailable")
)

func sentinel(kind Kind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindInsufficientStock:
		return ErrInsufficientStock
	case KindUnavailable:
		return ErrUnavailable
	}
	return nil
}

// Error carries a kind, the failing operation and a user-facing message.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s := sentinel(e.Kind)
	return s != nil && s == target
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

// Unavailable wraps an infrastructure failure. The whole operation may be retried.
func Unavailable(op string, err error) *Error {
	return &Error{Op: op, Kind: KindUnavailable, Message: "service temporarily unavailable", Err: err}
}

// InsufficientStockError reports a product whose stock cannot cover a requested quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// KindOf reports the kind of err, KindUnknown for errors produced outside this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return KindInsufficientStock
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Classified reports whether err already carries a kind from this package.
func Classified(err error) bool {
	k := KindOf(err)
	return k != "" && k != KindUnknown
}
