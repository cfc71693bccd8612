// Package schema derives JSON Schemas for tool input structs so built-in
// tools can be advertised to the model with structured parameter shapes.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Generate produces an object schema for the Go struct type T, using its
// json and jsonschema struct tags.
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	s := jsonschema.Reflect(&zero)
	root := extractRoot(s)

	doc := map[string]any{
		"type": "object",
	}
	if props := schemaProperties(root); props != nil {
		doc["properties"] = props
	}
	if len(root.Required) > 0 {
		doc["required"] = root.Required
	}
	return json.Marshal(doc)
}

// MustGenerate is Generate for schemas built from static types, where a
// failure is a programming error.
func MustGenerate[T any]() json.RawMessage {
	raw, err := Generate[T]()
	if err != nil {
		panic(err)
	}
	return raw
}

// extractRoot resolves the root schema, following $ref into $defs if the
// reflector wrapped the actual type.
func extractRoot(s *jsonschema.Schema) *jsonschema.Schema {
	if s.Ref != "" && s.Definitions != nil {
		for _, def := range s.Definitions {
			if def.Type == "object" {
				return def
			}
		}
	}
	return s
}

// schemaProperties converts the reflector's ordered property map into a
// plain map for serialization.
func schemaProperties(s *jsonschema.Schema) map[string]any {
	if s.Properties == nil {
		return nil
	}
	props := make(map[string]any)
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		props[pair.Key] = propertySchema(pair.Value)
	}
	return props
}

// propertySchema converts a single property schema to a serializable map.
func propertySchema(s *jsonschema.Schema) map[string]any {
	m := make(map[string]any)

	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}

	// Pointer fields surface as anyOf with a null branch.
	if len(s.AnyOf) > 0 {
		for _, sub := range s.AnyOf {
			if sub.Type != "null" && sub.Type != "" {
				m["type"] = sub.Type
				break
			}
		}
	}

	if s.Properties != nil {
		m["type"] = "object"
		m["properties"] = schemaProperties(s)
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}

	if s.Items != nil {
		m["items"] = propertySchema(s.Items)
	}

	return m
}
