package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Academic core errors.
var (
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict means the student's exclusive section could not
	// be entered or the aggregate moved underneath us. Retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrent update of student aggregate")
	// ErrReconcileDeferred means the semester change is stored but the student
	// aggregate was not updated; it has been queued for reconciliation.
	ErrReconcileDeferred = errors.New("student aggregate reconciliation deferred")
	ErrDuplicateStudent  = errors.New("student already exists")
)

// ValidationError describes malformed input. Fields maps a field path to a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
