// Package apperr is the typed error taxonomy shared by every layer.
// Each layer returns one of these kinds instead of raising ad-hoc errors;
// the HTTP layer maps Kind to status code in exactly one place.
package apperr

import "fmt"

// Kind is one of the taxonomy's named error categories.
type Kind string

const (
	ConfigInvalid  Kind = "ConfigInvalid"
	TaskNotFound   Kind = "TaskNotFound"
	Overloaded     Kind = "Overloaded"
	Infeasible     Kind = "Infeasible"
	SolverTimeout  Kind = "SolverTimeout"
	InternalError  Kind = "InternalError"
	CyclicDependency Kind = "CyclicDependency"
)

// Error is the structured error every layer returns or wraps.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error with no details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details (e.g. offending field list) and
// returns the same error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
