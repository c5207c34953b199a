// Package parser turns raw API records into models. All functions are pure.
package parser

import (
	"fmt"
)

// ParseError reports a malformed raw record: a missing mandatory field or
// an unexpected enumeration value
type ParseError struct {
	Field string
	Value any // nil when the field is missing
}

func (e *ParseError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("missing parameter %s", e.Field)
	}
	return fmt.Sprintf("unexpected value of a parameter %s = %v", e.Field, e.Value)
}

func missing(field string) error {
	return &ParseError{Field: field}
}

func unexpected(field string, value any) error {
	return &ParseError{Field: field, Value: value}
}
