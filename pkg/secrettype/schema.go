package secrettype

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// fieldsMetaSchema accepts only schemas describing a depth-1 object whose
// properties are scalars.
const fieldsMetaSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "properties"],
  "properties": {
    "type": {"enum": ["object"]},
    "properties": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/scalarField"}
    },
    "required": {
      "type": "array",
      "items": {"type": "string"},
      "uniqueItems": true
    },
    "additionalProperties": {
      "anyOf": [
        {"type": "boolean", "enum": [false]},
        {"$ref": "#/definitions/scalarField"}
      ]
    }
  },
  "not": {
    "anyOf": [
      {"required": ["$ref"]},
      {"required": ["items"]},
      {"required": ["patternProperties"]},
      {"required": ["dependencies"]},
      {"required": ["allOf"]},
      {"required": ["anyOf"]},
      {"required": ["oneOf"]}
    ]
  },
  "definitions": {
    "scalarType": {"enum": ["string", "number", "integer", "boolean", "null"]},
    "scalarField": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "anyOf": [
            {"$ref": "#/definitions/scalarType"},
            {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/scalarType"}}
          ]
        }
      },
      "not": {
        "anyOf": [
          {"required": ["$ref"]},
          {"required": ["properties"]},
          {"required": ["items"]},
          {"required": ["additionalProperties"]},
          {"required": ["patternProperties"]},
          {"required": ["allOf"]},
          {"required": ["anyOf"]},
          {"required": ["oneOf"]}
        ]
      }
    }
  }
}`

var (
	metaOnce   sync.Once
	metaSchema *gojsonschema.Schema
	metaErr    error
)

func compiledMetaSchema() (*gojsonschema.Schema, error) {
	metaOnce.Do(func() {
		metaSchema, metaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(fieldsMetaSchema))
	})
	return metaSchema, metaErr
}

// ValidateSchema checks that raw is a JSON Schema for a flat object of scalar
// fields. The returned error wraps ErrSchemaInvalid.
func ValidateSchema(raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &SchemaError{Reasons: []string{"schema is empty"}}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &SchemaError{Reasons: []string{fmt.Sprintf("schema is not a JSON object: %v", err)}}
	}

	meta, err := compiledMetaSchema()
	if err != nil {
		return fmt.Errorf("failed to compile fields meta-schema: %w", err)
	}

	result, err := meta.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &SchemaError{Reasons: []string{err.Error()}}
	}
	if !result.Valid() {
		reasons := nestingReasons(doc)
		if len(reasons) == 0 {
			for _, desc := range result.Errors() {
				reasons = append(reasons, desc.String())
			}
		}
		return &SchemaError{Reasons: reasons}
	}

	// The shape is right; make sure the document also compiles as a schema.
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc)); err != nil {
		return &SchemaError{Reasons: []string{fmt.Sprintf("schema does not compile: %v", err)}}
	}

	return nil
}

// nestingReasons names properties that would make the secret deeper than one
// level. It produces friendlier messages than the meta-schema for the most
// common mistake.
func nestingReasons(doc map[string]interface{}) []string {
	var reasons []string

	if t, ok := doc["type"].(string); ok && t != "object" {
		reasons = append(reasons, fmt.Sprintf("root type must be \"object\", got %q", t))
	}

	props, ok := doc["properties"].(map[string]interface{})
	if !ok {
		return reasons
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := props[name].(map[string]interface{})
		if !ok {
			continue
		}
		for _, t := range typeNames(prop["type"]) {
			if t == "object" || t == "array" {
				reasons = append(reasons, fmt.Sprintf("property %q: nested %s values are not allowed", name, t))
			}
		}
		if _, nested := prop["properties"]; nested {
			reasons = append(reasons, fmt.Sprintf("property %q: nested properties are not allowed", name))
		}
	}
	return reasons
}

func typeNames(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SchemaHash returns the hex SHA-256 of the canonical form of raw: object keys
// sorted and insignificant whitespace removed.
func SchemaHash(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode schema: %w", err)
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize schema: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateFields checks a material payload against the type's schema. Values
// must be scalars regardless of what the schema permits. The returned error
// wraps ErrSchemaMismatch.
func ValidateFields(t *SecretType, fields map[string]interface{}) error {
	var reasons []string

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !isScalar(fields[k]) {
			reasons = append(reasons, fmt.Sprintf("field %q: nested values are not allowed", k))
		}
	}
	if len(reasons) > 0 {
		return &FieldsError{TypeID: t.ID, Reasons: reasons}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(t.FieldsSchema),
		gojsonschema.NewGoLoader(fields),
	)
	if err != nil {
		return fmt.Errorf("failed to validate fields against %s: %w", t.ID, err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return &FieldsError{TypeID: t.ID, Reasons: reasons}
	}

	return nil
}

// isScalar reports whether v encodes as a JSON string, number, boolean or null.
func isScalar(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return false
	}
	return true
}
