package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// SchemaKind tags the variant of a Schema node.
type SchemaKind string

const (
	KindAny     SchemaKind = "any"
	KindString  SchemaKind = "string"
	KindNumber  SchemaKind = "number"
	KindInteger SchemaKind = "integer"
	KindBoolean SchemaKind = "boolean"
	KindArray   SchemaKind = "array"
	KindObject  SchemaKind = "object"
)

// Schema is a structural description of a tool's arguments, decoded from the
// JSON Schema a server advertises. Only the subset needed to type-check
// arguments before dispatch is kept; unknown keywords are dropped.
type Schema struct {
	Kind        SchemaKind         `json:"-"`
	Description string             `json:"-"`
	Properties  map[string]*Schema `json:"-"`
	Required    []string           `json:"-"`
	Items       *Schema            `json:"-"`
	Enum        []any              `json:"-"`
}

type wireSchema struct {
	Type        json.RawMessage    `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
}

// ParseSchema decodes a JSON Schema blob. An empty blob yields an object schema with no constraints.
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &Schema{Kind: KindObject}, nil
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	return &s, nil
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var w wireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Kind = decodeKind(w.Type)
	if s.Kind == KindAny && len(w.Properties) > 0 {
		s.Kind = KindObject
	}
	s.Description = w.Description
	s.Properties = w.Properties
	s.Required = w.Required
	s.Items = w.Items
	s.Enum = w.Enum
	return nil
}

func (s Schema) MarshalJSON() ([]byte, error) {
	w := wireSchema{
		Description: s.Description,
		Properties:  s.Properties,
		Required:    s.Required,
		Items:       s.Items,
		Enum:        s.Enum,
	}
	if s.Kind != "" && s.Kind != KindAny {
		w.Type, _ = json.Marshal(string(s.Kind))
	}
	return json.Marshal(w)
}

// decodeKind accepts "type": "string" as well as "type": ["string", "null"].
func decodeKind(raw json.RawMessage) SchemaKind {
	if len(raw) == 0 {
		return KindAny
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return knownKind(one)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t != "null" {
				return knownKind(t)
			}
		}
	}
	return KindAny
}

func knownKind(t string) SchemaKind {
	switch k := SchemaKind(t); k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindArray, KindObject:
		return k
	}
	return KindAny
}

// SchemaError reports the first argument that does not fit the schema.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "invalid arguments: " + e.Message
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Path, e.Message)
}

// Validate checks args structurally: required fields are present and every
// provided field matches its declared primitive type. Extra fields are allowed.
// Values are checked in their JSON form, so []string, map[string]string or
// uint arguments validate the way they will be sent.
func (s *Schema) Validate(args map[string]any) error {
	if s == nil {
		return nil
	}
	if s.Kind != KindObject && s.Kind != KindAny {
		return &SchemaError{Message: fmt.Sprintf("top-level schema is %s, not object", s.Kind)}
	}
	wire, err := jsonShape(args)
	if err != nil {
		return &SchemaError{Message: err.Error()}
	}
	return s.validateObject("", wire)
}

// jsonShape re-decodes args so every value is one of the encoding/json
// generic types (string, float64, bool, []any, map[string]any, nil).
func jsonShape(args map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON-encodable: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("arguments are not JSON-encodable: %v", err)
	}
	return out, nil
}

func (s *Schema) validateObject(path string, obj map[string]any) error {
	for _, name := range s.Required {
		if v, ok := obj[name]; !ok || v == nil {
			return &SchemaError{Path: join(path, name), Message: "required"}
		}
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, ok := s.Properties[name]
		if !ok || prop == nil {
			continue
		}
		v := obj[name]
		if v == nil {
			continue
		}
		if err := prop.validateValue(join(path, name), v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) validateValue(path string, v any) error {
	switch s.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return typeMismatch(path, s.Kind, v)
		}
	case KindNumber:
		if _, ok := toFloat(v); !ok {
			return typeMismatch(path, s.Kind, v)
		}
	case KindInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return typeMismatch(path, s.Kind, v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return typeMismatch(path, s.Kind, v)
		}
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return typeMismatch(path, s.Kind, v)
		}
		if s.Items != nil {
			for i, item := range items {
				if item == nil {
					continue
				}
				if err := s.Items.validateValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
					return err
				}
			}
		}
	case KindObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return typeMismatch(path, s.Kind, v)
		}
		if err := s.validateObject(path, obj); err != nil {
			return err
		}
	}

	if len(s.Enum) > 0 && !inEnum(s.Enum, v) {
		return &SchemaError{Path: path, Message: fmt.Sprintf("value %v is not one of %v", v, s.Enum)}
	}
	return nil
}

func typeMismatch(path string, want SchemaKind, got any) error {
	return &SchemaError{Path: path, Message: fmt.Sprintf("expected %s, got %T", want, got)}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if ef, ok := toFloat(e); ok {
			if vf, ok := toFloat(v); ok && ef == vf {
				return true
			}
			continue
		}
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
