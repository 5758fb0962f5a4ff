package onnx

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies the errors returned while parsing ONNX nodes.
type ErrorKind int

const (
	// ArityError is returned when a node has a number of inputs outside the range accepted by its operator.
	ArityError ErrorKind = iota + 1

	// TypeMismatchError is returned when an element type constraint is violated.
	TypeMismatchError

	// ShapeMismatchError is returned when input shapes are inconsistent with each other or with the attributes.
	ShapeMismatchError

	// UnknownOperatorError is returned when no parser is registered for a node's operator.
	// It indicates a coverage gap rather than a malformed model.
	UnknownOperatorError

	// ConfigurationError is returned when the set of parsers is inconsistent, e.g. two parsers claim
	// the same operator name. It is a programming error.
	ConfigurationError
)

var errorKindNames = map[ErrorKind]string{
	ArityError:           "ArityError",
	TypeMismatchError:    "TypeMismatchError",
	ShapeMismatchError:   "ShapeMismatchError",
	UnknownOperatorError: "UnknownOperatorError",
	ConfigurationError:   "ConfigurationError",
}

func (kind ErrorKind) String() string {
	if name, found := errorKindNames[kind]; found {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(kind))
}

// OpError is the error returned by operator parsers and by the Registry.
type OpError struct {
	Kind ErrorKind

	// Op is the ONNX operator name the error refers to.
	Op string

	// Msg is the human-readable description.
	Msg string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// opErrorf creates an *OpError with a stack trace attached.
func opErrorf(kind ErrorKind, op string, format string, args ...any) error {
	return errors.WithStack(&OpError{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)})
}

// KindOf returns the ErrorKind of the first *OpError in err's chain, or 0 if there is none.
func KindOf(err error) ErrorKind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return 0
}

// IsKind reports whether err is an *OpError (possibly wrapped) of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
