// Package apperr classifies failures so callers can decide whether an error
// is fatal to a request, to a single geometry, or should stay opaque.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindCatalog
	KindValidation
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindCatalog:
		return "catalog_resolution"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote_service"
	default:
		return "unexpected"
	}
}

// GenericMessage is what clients see for unclassified failures.
const GenericMessage = "An unexpected error has occurred. Please try again."

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Catalog(op, msg string, err error) error {
	return &Error{Kind: KindCatalog, Op: op, Msg: msg, Err: err}
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Remote(op, msg string, err error) error {
	return &Error{Kind: KindRemote, Op: op, Msg: msg, Err: err}
}

// Wrap attaches op context while keeping the classification of err.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Kind: ae.Kind, Op: op, Msg: ae.Msg, Err: err}
	}
	return &Error{Kind: KindUnexpected, Op: op, Err: err}
}

// KindOf returns the first classification found in the chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}

func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Public returns a message that is safe to hand to an external caller.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind == KindUnexpected {
		return GenericMessage
	}
	if ae.Msg != "" {
		return ae.Msg
	}
	return ae.Kind.String() + " error"
}
