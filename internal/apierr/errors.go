// Package apierr defines the error taxonomy shared by the engine, the rate
// limiter and the HTTP layer.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is a stable, machine readable error category.
type Kind string

const (
	EBadRequest          Kind = "bad request"
	EValidationFailed    Kind = "validation failed"
	ESchemaNotRegistered Kind = "schema not registered"
	ENotFound            Kind = "not found"
	ERateLimited         Kind = "rate limited"
	EUnauthenticated     Kind = "unauthenticated"
	EConflict            Kind = "conflict"
	EInternal            Kind = "internal error"
)

// Error carries a Kind for handlers, a human readable Msg, the operation
// that produced it and an optional wrapped cause.
//
//	&apierr.Error{
//	    Kind: apierr.ENotFound,
//	    Op:   "engine.Search",
//	    Msg:  "no documents found matching criteria",
//	}
type Error struct {
	Kind Kind
	Msg  string
	Op   string
	Err  error
}

// New returns an error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Errorf returns an error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message.
func Wrap(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
// A nil error has no kind; any other error is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return EInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the status code a caller should see. A nil error
// maps to 200.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case EBadRequest, EValidationFailed, ESchemaNotRegistered:
		return http.StatusBadRequest
	case ENotFound:
		return http.StatusNotFound
	case ERateLimited:
		return http.StatusTooManyRequests
	case EUnauthenticated:
		return http.StatusUnauthorized
	case EConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the detail to show a caller. Internal errors are not
// echoed verbatim.
func Message(err error) string {
	if KindOf(err) == EInternal {
		var e *Error
		if errors.As(err, &e) && e.Msg != "" {
			return e.Msg
		}
		return "internal error"
	}
	return err.Error()
}
