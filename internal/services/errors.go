package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized means the singles dataset is still loading
	ErrNotInitialized = errors.New("catalog is still loading")
	// ErrSourceUnavailable means a catalog source failed; the search degrades to partial
	ErrSourceUnavailable = errors.New("catalog source unavailable")
	// ErrQueryTimeout means a catalog source exceeded its deadline
	ErrQueryTimeout = errors.New("catalog query timed out")
	// ErrConflictOnCommit means another writer took an order number first
	ErrConflictOnCommit = errors.New("order number conflict on commit")
	ErrIdentity         = errors.New("could not resolve current user")
	ErrNotFound         = errors.New("not found")
	ErrSessionNotFound  = errors.New("browse session not found")
	ErrEmptyCart        = errors.New("cart is empty")
)

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every invalid field of a request
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field failure
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns e when it holds failures, else nil
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsRetryable reports whether the caller may retry the same request later
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrQueryTimeout) ||
		errors.Is(err, ErrConflictOnCommit)
}
