// Package ferrors defines the closed error taxonomy shared by every pass
// in the pipeline: a single typed error carried through the compiler
// instead of ad hoc fmt.Errorf strings.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error categories a pass may raise.
type Kind string

const (
	TypeErr         Kind = "TypeError"
	AliasingErr     Kind = "AliasingError"
	ShapeErr        Kind = "ShapeError"
	DistributionErr Kind = "DistributionError"
	InternalErr     Kind = "InternalInvariantViolation"
)

// CompileError is the single error type that crosses pass boundaries.
type CompileError struct {
	Kind    Kind
	Pass    string
	Message string
	Name    string // offending IR name, if any
	cause   error
}

func (e *CompileError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s[%s]: %s (at %s)", e.Pass, e.Kind, e.Message, e.Name)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Pass, e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *CompileError) Unwrap() error { return e.cause }

func new_(pass string, kind Kind, name string, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Kind:    kind,
		Pass:    pass,
		Message: fmt.Sprintf(format, args...),
		Name:    name,
	}
}

// Type reports a TypeError: mismatched types, uniqueness violation, pattern
// shape mismatch, unknown name, non-integral dimension.
func Type(pass, name, format string, args ...interface{}) *CompileError {
	return new_(pass, TypeErr, name, format, args...)
}

// Aliasing reports use-after-consume or a unique return aliasing a parameter.
func Aliasing(pass, name, format string, args ...interface{}) *CompileError {
	return new_(pass, AliasingErr, name, format, args...)
}

// Shape reports a size that is not statically solvable where required.
func Shape(pass, name, format string, args ...interface{}) *CompileError {
	return new_(pass, ShapeErr, name, format, args...)
}

// Distribution reports an unbalanced lambda that could not be distributed
// nor sequentialised.
func Distribution(pass, name, format string, args ...interface{}) *CompileError {
	return new_(pass, DistributionErr, name, format, args...)
}

// Internal reports a pass discovering IR in a shape it never expected. expr
// is the pretty-printed offending expression, carried verbatim alongside
// the message when present.
func Internal(pass string, expr fmt.Stringer, format string, args ...interface{}) *CompileError {
	e := new_(pass, InternalErr, "", format, args...)
	if expr != nil {
		e.Message = e.Message + ": " + expr.String()
	}
	return e
}

// Wrap attaches pass-name context to an arbitrary lower-level error without
// discarding the root cause (mirrors github.com/pkg/errors.Wrap).
func Wrap(pass string, kind Kind, cause error, format string, args ...interface{}) *CompileError {
	e := new_(pass, kind, "", format, args...)
	e.cause = errors.Wrap(cause, e.Message)
	return e
}

// Cause returns the deepest wrapped error, mirroring pkg/errors.Cause.
func Cause(err error) error {
	for {
		ce, ok := err.(*CompileError)
		if !ok || ce.cause == nil {
			break
		}
		err = ce.cause
	}
	return errors.Cause(err)
}
