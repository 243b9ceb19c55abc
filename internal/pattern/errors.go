package pattern

import (
	"errors"
	"fmt"
)

// Sentinel errors for template compilation
var (
	ErrDuplicateName     = errors.New("duplicate name")
	ErrAmbiguousVariadic = errors.New("ambiguous variadic")
	ErrAmbiguousOptional = errors.New("ambiguous optional")
)

// Error describes why a template was rejected. Name is the offending binding;
// for ambiguity errors Other is the binding it may overlap with.
type Error struct {
	Err   error
	Name  string
	Other string
}

func (e *Error) Error() string {
	switch e.Err {
	case ErrDuplicateName:
		return fmt.Sprintf("duplicate name: %s", e.Name)
	case ErrAmbiguousVariadic:
		return fmt.Sprintf("ambiguous variadic '%s' may overlap with '%s'", e.Name, e.Other)
	case ErrAmbiguousOptional:
		return fmt.Sprintf("ambiguous optional '%s' may overlap with '%s'", e.Name, e.Other)
	default:
		return fmt.Sprintf("invalid pattern: %s", e.Name)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
