// Package apperr defines the error taxonomy shared by the catalog engine,
// the service boundary and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for callers that render it.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindStorage    Kind = "storage"
)

// FieldErrors maps an input field to the problems found with it.
type FieldErrors map[string][]string

// Add appends a message for field.
func (f FieldErrors) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Error is an error with a kind, a user-facing message and optional
// per-field details.
type Error struct {
	Kind    Kind
	Message string
	Fields  FieldErrors
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, strings.Join(e.Fields[k], ", "))
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a validation error carrying fields. A nil or empty
// fields map yields an error without field details.
func Validation(msg string, fields FieldErrors) *Error {
	if len(fields) == 0 {
		fields = nil
	}
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Conflict returns a conflict error.
func Conflict(msg string, fields FieldErrors) *Error {
	if len(fields) == 0 {
		fields = nil
	}
	return &Error{Kind: KindConflict, Message: msg, Fields: fields}
}

// NotFound returns a not-found error.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Permission returns a permission error.
func Permission(msg string) *Error {
	return &Error{Kind: KindPermission, Message: msg}
}

// Storage wraps a persistence or blob failure.
func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors outside the taxonomy are storage
// errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindStorage
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
