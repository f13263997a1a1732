// Package apperr classifies domain errors so transports can map them
// without knowing every sentinel.
package apperr

import "errors"

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindUnprocessable
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnprocessable:
		return "unprocessable"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a classified sentinel. Compare with errors.Is against the
// package-level vars that hold them.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

func NotFound(code, msg string) *Error      { return New(KindNotFound, code, msg) }
func Conflict(code, msg string) *Error      { return New(KindConflict, code, msg) }
func Validation(code, msg string) *Error    { return New(KindValidation, code, msg) }
func Unprocessable(code, msg string) *Error { return New(KindUnprocessable, code, msg) }
func Unavailable(code, msg string) *Error   { return New(KindUnavailable, code, msg) }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code, "internal" when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal"
}
