package rules

import (
	"errors"
	"fmt"
)

// ErrInvalidContext indicates the evaluation context could not be encoded.
var ErrInvalidContext = errors.New("invalid evaluation context")

// ExprError indicates a structurally malformed expression node.
type ExprError struct {
	// Path locates the node, e.g. "and[1].>=".
	Path string

	// Operator is the operator of the offending node (if known).
	Operator string

	// Message describes the problem.
	Message string
}

// Error returns the error message.
func (e *ExprError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid expression: %s", e.Message)
	}
	return fmt.Sprintf("invalid expression at %s: %s", e.Path, e.Message)
}

// UnknownOperatorError is reported by Validate for operators the evaluator
// does not recognise. Evaluate treats such nodes as false.
type UnknownOperatorError struct {
	Path     string
	Operator string
}

// Error returns the error message.
func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q at %s (evaluates to false)", e.Operator, displayPath(e.Path))
}

func displayPath(path string) string {
	if path == "" {
		return "root"
	}
	return path
}
