package bus

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Kind constrains the JSON type of a payload field.
type Kind int

const (
	// KindAny accepts any value, including nil.
	KindAny Kind = iota
	// KindString accepts string values.
	KindString
	// KindNumber accepts float64 and integer values.
	KindNumber
	// KindBool accepts boolean values.
	KindBool
	// KindTimestamp accepts time.Time values or RFC 3339 strings.
	KindTimestamp
	// KindArray accepts slice values.
	KindArray
	// KindObject accepts map values.
	KindObject
)

// String returns the kind name used in schema error messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "any"
	}
}

// Field describes one payload field in an event schema.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema describes the payload structure registered for an event name.
// Fields not listed in the schema are allowed and pass through unchecked.
type Schema struct {
	Fields []Field
}

// Validate checks a payload against the schema. Returns nil when every
// required field is present and every present field has the declared kind.
func (s Schema) Validate(event string, payload Payload) error {
	var fieldErrs []FieldError
	for _, f := range s.Fields {
		v, ok := payload[f.Name]
		if !ok {
			if f.Required {
				fieldErrs = append(fieldErrs, FieldError{Field: f.Name, Message: "required field missing"})
			}
			continue
		}
		if !kindMatches(f.Kind, v) {
			fieldErrs = append(fieldErrs, FieldError{
				Field:   f.Name,
				Message: fmt.Sprintf("expected %s, got %T", f.Kind, v),
			})
		}
	}
	if len(fieldErrs) > 0 {
		return &SchemaError{Event: event, Fields: fieldErrs}
	}
	return nil
}

func kindMatches(k Kind, v any) bool {
	switch k {
	case KindAny:
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindTimestamp:
		switch t := v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, t)
			return err == nil
		}
		return false
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// eventNameRe matches namespace:kind names: lowercase segments separated by
// colons, dashes allowed inside segments.
var eventNameRe = regexp.MustCompile(`^[a-z][a-z-]*(:[a-z][a-z-]*)+$`)

// ValidEventName reports whether name follows the namespace:kind form.
func ValidEventName(name string) bool {
	return eventNameRe.MatchString(name)
}

// Registry maps registered event names to their payload schemas.
// Publication of a name absent from the registry is rejected.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewRegistry creates an empty event registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register records the schema for an event name.
func (r *Registry) Register(name string, schema Schema) error {
	if !ValidEventName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateEvent, name)
	}
	r.schemas[name] = schema
	return nil
}

// MustRegister registers a schema and panics on error. Intended for
// package-level event catalogs built at startup.
func (r *Registry) MustRegister(name string, schema Schema) {
	if err := r.Register(name, schema); err != nil {
		panic(err)
	}
}

// Known reports whether an event name has been registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

// Get returns the schema for a registered event name.
func (r *Registry) Get(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns all registered event names (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
