package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field types for tool argument schemas, mirroring JSON Schema type names.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Field declares one tool argument.
type Field struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Schema is a compile-time argument declaration for one tool. Arguments are
// validated against it before the tool handler runs; unknown arguments pass
// through unchecked.
type Schema struct {
	Fields []Field
}

// ArgumentError describes a single argument that failed validation.
type ArgumentError struct {
	Field   string
	Message string
}

// ArgumentErrors is the field-level error list returned by Validate.
type ArgumentErrors []ArgumentError

// Error returns a single human-readable line listing every failing argument.
func (errs ArgumentErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Validate checks args against the schema. Returns nil when every required
// field is present and every declared field has its declared type.
func (s Schema) Validate(args map[string]any) ArgumentErrors {
	var errs ArgumentErrors
	for _, f := range s.Fields {
		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				errs = append(errs, ArgumentError{Field: f.Name, Message: "required argument missing"})
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			errs = append(errs, ArgumentError{
				Field:   f.Name,
				Message: fmt.Sprintf("expected %s, got %T", f.Type, v),
			})
		}
	}
	return errs
}

func typeMatches(fieldType string, v any) bool {
	switch fieldType {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// JSONSchema renders the schema as the JSON Schema document advertised in
// the tool definition.
func (s Schema) JSONSchema() json.RawMessage {
	type property struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}
	doc := struct {
		Type       string              `json:"type"`
		Properties map[string]property `json:"properties,omitempty"`
		Required   []string            `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: make(map[string]property, len(s.Fields)),
	}
	for _, f := range s.Fields {
		doc.Properties[f.Name] = property{Type: f.Type, Description: f.Description}
		if f.Required {
			doc.Required = append(doc.Required, f.Name)
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Marshal of a struct of strings cannot fail.
		panic(err)
	}
	return data
}
