package ailink

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fulmenhq/gofulmen/schema"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// Schema describes the structured record a caller expects back.
type Schema interface {
	// Name identifies the schema in errors and logs.
	Name() string
	// Document is the JSON Schema shown to the model.
	Document() map[string]any
	// Validate checks a parsed JSON object.
	Validate(payload []byte) error
}

// JSONSchema validates against a JSON Schema document.
type JSONSchema struct {
	name     string
	doc      map[string]any
	validate func([]byte) error
}

// NewJSONSchema compiles a raw JSON Schema document.
func NewJSONSchema(name string, raw []byte) (*JSONSchema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", name, err)
	}
	v, err := schema.NewValidator(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	if strings.TrimSpace(name) == "" {
		if title, ok := doc["title"].(string); ok {
			name = title
		}
	}
	return &JSONSchema{
		name: name,
		doc:  doc,
		validate: func(payload []byte) error {
			diagnostics, err := v.ValidateJSON(payload)
			if err != nil {
				return err
			}
			if len(diagnostics) > 0 {
				return errors.New(diagnostics[0].Message)
			}
			return nil
		},
	}, nil
}

// NewJSONSchemaFromMap compiles a schema held as a decoded document.
func NewJSONSchemaFromMap(name string, doc map[string]any) (*JSONSchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	return NewJSONSchema(name, raw)
}

func (s *JSONSchema) Name() string             { return s.name }
func (s *JSONSchema) Document() map[string]any { return s.doc }

func (s *JSONSchema) Validate(payload []byte) error {
	return s.validate(payload)
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// StructSchema derives its document from T and validates by decoding into T
// and applying `validate` struct tags.
type StructSchema[T any] struct {
	name string
	doc  map[string]any
}

// NewStructSchema reflects T into a JSON Schema document.
func NewStructSchema[T any](name string) (*StructSchema[T], error) {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	reflected := reflector.Reflect(new(T))
	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", name, err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	if strings.TrimSpace(name) == "" {
		var zero T
		name = reflect.TypeOf(zero).Name()
	}
	return &StructSchema[T]{name: name, doc: doc}, nil
}

func (s *StructSchema[T]) Name() string             { return s.name }
func (s *StructSchema[T]) Document() map[string]any { return s.doc }

func (s *StructSchema[T]) Validate(payload []byte) error {
	_, err := s.Decode(payload)
	return err
}

// Decode unmarshals and validates payload.
func (s *StructSchema[T]) Decode(payload []byte) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, err
	}
	if reflect.Indirect(reflect.ValueOf(&out)).Kind() == reflect.Struct {
		if err := structValidator.Struct(&out); err != nil {
			return out, err
		}
	}
	return out, nil
}

func schemaJSON(s Schema) string {
	if s == nil {
		return ""
	}
	raw, err := json.Marshal(s.Document())
	if err != nil {
		return "{}"
	}
	return string(raw)
}
