// Package fault defines the error classes that abort a patch run.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Class identifies one of the unrecoverable error categories.
type Class string

const (
	ClassAddressing  Class = "ADDRESSING_ERROR"
	ClassAmbiguity   Class = "AMBIGUITY_ERROR"
	ClassSchema      Class = "SCHEMA_ERROR"
	ClassPolicy      Class = "POLICY_VIOLATION"
	ClassConsistency Class = "CONSISTENCY_ERROR"
)

// Sentinels for errors.Is matching against a class.
var (
	ErrAddressing  = errors.New("addressing error")
	ErrAmbiguity   = errors.New("ambiguity error")
	ErrSchema      = errors.New("schema error")
	ErrPolicy      = errors.New("policy violation")
	ErrConsistency = errors.New("consistency error")
)

// Error carries the class, a human message, and the identifiers needed to fix the input
// (proposal number, section, candidates tried, match count, ...).
type Error struct {
	Class   Class
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Class, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return fmt.Sprintf("%s: %s (%s)", e.Class, e.Message, strings.Join(parts, ", "))
}

// Is lets errors.Is(err, fault.ErrAmbiguity) match any *Error of that class.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinelFor(e.Class) == target
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Class: e.Class, Message: e.Message, Details: details}
}

func newError(class Class, details map[string]any, format string, args ...any) *Error {
	return &Error{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}

func Addressing(details map[string]any, format string, args ...any) *Error {
	return newError(ClassAddressing, details, format, args...)
}

func Ambiguity(details map[string]any, format string, args ...any) *Error {
	return newError(ClassAmbiguity, details, format, args...)
}

func Schema(details map[string]any, format string, args ...any) *Error {
	return newError(ClassSchema, details, format, args...)
}

func Policy(details map[string]any, format string, args ...any) *Error {
	return newError(ClassPolicy, details, format, args...)
}

func Consistency(details map[string]any, format string, args ...any) *Error {
	return newError(ClassConsistency, details, format, args...)
}

// ClassOf extracts the class from anywhere in an error chain.
func ClassOf(err error) (Class, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return "", false
}

// As returns the first *Error in the chain, if any.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func sentinelFor(c Class) error {
	switch c {
	case ClassAddressing:
		return ErrAddressing
	case ClassAmbiguity:
		return ErrAmbiguity
	case ClassSchema:
		return ErrSchema
	case ClassPolicy:
		return ErrPolicy
	case ClassConsistency:
		return ErrConsistency
	default:
		return nil
	}
}
