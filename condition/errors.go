package condition

import (
	"errors"
	"fmt"
)

// Structural failure kinds. A StructuralError always wraps one of these.
var (
	ErrNotAnObject     = errors.New("not an object")
	ErrCyclicReference = errors.New("cyclic reference")
	ErrUnknownOperator = errors.New("unknown operator")
)

// StructuralError reports a malformed expression tree.
// Path is a JSON-pointer-like location of the offending node ("$" is the root).
type StructuralError struct {
	Path   string
	Err    error
	Detail string
}

func (e *StructuralError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v at %s: %s", e.Err, e.Path, e.Detail)
	}
	return fmt.Sprintf("%v at %s", e.Err, e.Path)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// InvalidArgumentsError reports a recognized operator used with the wrong
// number or kind of arguments.
type InvalidArgumentsError struct {
	Operator string
	Path     string
	Reason   string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %q at %s: %s", e.Operator, e.Path, e.Reason)
}

// EvaluationError is a runtime failure while applying an operator, such as
// arithmetic on a non-numeric value.
type EvaluationError struct {
	Operator string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q: %v", e.Operator, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// IsStructural reports whether err came from structural validation, as
// opposed to a runtime evaluation failure.
func IsStructural(err error) bool {
	var se *StructuralError
	var ia *InvalidArgumentsError
	return errors.As(err, &se) || errors.As(err, &ia)
}
