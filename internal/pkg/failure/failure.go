// Package failure classifies errors surfaced by the store and the services built on it.
package failure

import (
	"errors"
	"fmt"
)

// Kind names a failure class that callers can branch on.
type Kind string

const (
	ConfigurationMissing Kind = "configuration_missing"
	Transport            Kind = "transport_failure"
	Unauthorized         Kind = "authentication_failure"
	NotFound             Kind = "not_found"
	Conflict             Kind = "conflict"
	DuplicateRequest     Kind = "duplicate_request"
	MalformedStoredData  Kind = "malformed_stored_data"
	Validation           Kind = "validation"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrConfigurationMissing = &Error{Kind: ConfigurationMissing}
	ErrTransport            = &Error{Kind: Transport}
	ErrUnauthorized         = &Error{Kind: Unauthorized}
	ErrNotFound             = &Error{Kind: NotFound}
	ErrConflict             = &Error{Kind: Conflict}
	ErrDuplicateRequest     = &Error{Kind: DuplicateRequest}
	ErrMalformedStoredData  = &Error{Kind: MalformedStoredData}
	ErrValidation           = &Error{Kind: Validation}
)

// Error is a classified failure. Op names the operation, Err is the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so wrapped failures compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New builds a failure with a formatted cause.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in the chain, or "" when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
