package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist or lies outside the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the actor has no usable tenant binding.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionAlreadyOpen is returned by check-in when single open sessions are enforced.
	ErrSessionAlreadyOpen = errors.New("member already has an open session")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}
