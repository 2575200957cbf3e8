package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateFlow checks a Flow for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the flow is valid.
func ValidateFlow(f *Flow) error {
	var ve ValidationError

	// Name: required and at most 255 characters.
	name := strings.TrimSpace(f.Name)
	if name == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	} else if len([]rune(name)) > 255 {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "must be 255 characters or fewer"})
	}

	if !f.Type.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{Field: "type", Message: fmt.Sprintf("invalid value %q", f.Type)})
	}

	// FlowData: must decode as a graph if present.
	if len(f.FlowData) > 0 {
		if _, err := ParseGraph([]byte(f.FlowData)); err != nil {
			ve.Errors = append(ve.Errors, FieldError{Field: "flowData", Message: "is not a valid graph"})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
