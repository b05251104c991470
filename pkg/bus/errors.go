package bus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownEvent indicates a publish or exact subscribe referenced an
	// event name that was never registered.
	ErrUnknownEvent = errors.New("unknown event name")

	// ErrInvalidEventName indicates an event name that does not follow the
	// namespace:kind form.
	ErrInvalidEventName = errors.New("invalid event name")

	// ErrInvalidPattern indicates a subscription pattern that could not be
	// compiled.
	ErrInvalidPattern = errors.New("invalid subscription pattern")

	// ErrDuplicateEvent indicates an event name registered twice.
	ErrDuplicateEvent = errors.New("event name already registered")
)

// FieldError describes a single payload field that failed schema validation.
type FieldError struct {
	Field   string
	Message string
}

// SchemaError reports payload fields that do not match the registered schema
// for an event.
type SchemaError struct {
	Event  string
	Fields []FieldError
}

// Error returns a formatted error message listing every failing field.
func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("payload for %q does not match schema: %s",
		e.Event, strings.Join(parts, "; "))
}
