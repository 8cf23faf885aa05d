package catalog

import (
	"machine-catalog-backend/internal/apperr"
)

// Result is the envelope every catalog operation answers with.
type Result[T any] struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Data        *T                  `json:"data,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`

	// Kind classifies a failure for transports; empty on success.
	Kind apperr.Kind `json:"-"`
}

// OK wraps data in a successful result.
func OK[T any](msg string, data T) Result[T] {
	return Result[T]{Success: true, Message: msg, Data: &data}
}

// Fail converts err into a failed result. Storage failures get a generic
// message; their cause stays in the logs.
func Fail[T any](err error) Result[T] {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Storage("internal error", err)
	}
	msg := e.Message
	if e.Kind == apperr.KindStorage {
		msg = "internal error, please try again"
	}
	var fields map[string][]string
	if len(e.Fields) > 0 {
		fields = e.Fields
	}
	return Result[T]{Success: false, Message: msg, FieldErrors: fields, Kind: e.Kind}
}
