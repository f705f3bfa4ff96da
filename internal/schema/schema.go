// Package schema validates step results against their declared result schema.
//
// Result schemas are JSON-Schema-like maps. They are compiled into
// kin-openapi (OpenAPI 3.0) schemas, which cover the subset of JSON Schema
// task authors use: type, required, properties, items, enum,
// additionalProperties, allOf/anyOf/oneOf/not and the numeric/string bounds.
//
// Two JSON Schema forms are translated first: a type list such as
// ["string", "null"] becomes the single type with nullable set (several
// non-null types become anyOf), and const becomes a one-value enum.
// References ($ref, definitions, $defs) are not supported and fail to compile.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/harrison/relay/internal/models"
)

// ErrInvalidResult is matched by every ValidationError.
var ErrInvalidResult = errors.New("result does not conform to schema")

// ValidationError lists every problem found while validating a value.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrInvalidResult.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidResult, strings.Join(e.Problems, "; "))
}

// Is matches ErrInvalidResult.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidResult
}

// IsValidationError checks if the error is or wraps a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Schema is a compiled result schema.
type Schema struct {
	raw      map[string]interface{}
	compiled *openapi3.Schema
}

// draftKeys are JSON Schema meta keywords with no openapi3 counterpart.
var draftKeys = []string{"$schema", "$id", "$comment"}

// Compile converts a JSON-Schema-like map into a Schema.
// A malformed schema is reported as a definition error.
func Compile(raw map[string]interface{}) (*Schema, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: result schema is nil", models.ErrDefinition)
	}

	cleaned := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		cleaned[k] = v
	}
	for _, k := range draftKeys {
		delete(cleaned, k)
	}
	translated, err := translate(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed result schema: %v", models.ErrDefinition, err)
	}

	data, err := json.Marshal(translated)
	if err != nil {
		return nil, fmt.Errorf("%w: encode result schema: %v", models.ErrDefinition, err)
	}

	compiled := &openapi3.Schema{}
	if err := json.Unmarshal(data, compiled); err != nil {
		return nil, fmt.Errorf("%w: decode result schema: %v", models.ErrDefinition, err)
	}
	if err := compiled.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: malformed result schema: %v", models.ErrDefinition, err)
	}

	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(raw map[string]interface{}) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema map the Schema was compiled from.
func (s *Schema) Raw() map[string]interface{} {
	return s.raw
}

// Validate checks value against the schema. The value is normalized through
// JSON first so that typed Go values validate the same way decoded JSON does.
func (s *Schema) Validate(value interface{}) error {
	normalized, err := normalize(value)
	if err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("value is not JSON encodable: %v", err)}}
	}

	err = s.compiled.VisitJSON(normalized, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	problems := flatten(err, nil)
	sort.Strings(problems)
	return &ValidationError{Problems: problems}
}

// ValidateResult enforces the step result contract: the result carries an
// artifacts array and conforms to its declared schema.
func ValidateResult(raw map[string]interface{}, result models.StepResult) error {
	if result == nil {
		return &ValidationError{Problems: []string{"result is empty"}}
	}

	artifacts, ok := result[models.ArtifactsField]
	if !ok {
		return &ValidationError{Problems: []string{`missing required field "artifacts"`}}
	}
	items, ok := asArray(artifacts)
	if !ok {
		return &ValidationError{Problems: []string{`field "artifacts" must be an array`}}
	}
	var problems []string
	for i, item := range items {
		if _, ok := item.(map[string]interface{}); !ok {
			problems = append(problems, fmt.Sprintf("/artifacts/%d: artifact must be an object", i))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	s, err := Compile(models.WithArtifacts(raw))
	if err != nil {
		return err
	}
	return s.Validate(map[string]interface{}(result))
}

// referenceKeys are JSON Schema keywords that need a resolver.
var referenceKeys = []string{"$ref", "definitions", "$defs"}

// translate rewrites the JSON Schema forms openapi3 lacks, returning a copy.
func translate(node map[string]interface{}) (map[string]interface{}, error) {
	for _, k := range referenceKeys {
		if _, ok := node[k]; ok {
			return nil, fmt.Errorf("%s is not supported", k)
		}
	}

	out := make(map[string]interface{}, len(node))
	for k, v := range node {
		out[k] = v
	}

	if types, ok := out["type"].([]interface{}); ok {
		var concrete []interface{}
		nullable := false
		for _, t := range types {
			if t == "null" {
				nullable = true
				continue
			}
			concrete = append(concrete, t)
		}
		delete(out, "type")
		switch len(concrete) {
		case 0:
			return nil, fmt.Errorf("type list %v names no concrete type", types)
		case 1:
			out["type"] = concrete[0]
		default:
			alternatives := make([]interface{}, len(concrete))
			for i, t := range concrete {
				alternatives[i] = map[string]interface{}{"type": t}
			}
			out["anyOf"] = alternatives
		}
		if nullable {
			out["nullable"] = true
		}
	}

	if c, ok := out["const"]; ok {
		out["enum"] = []interface{}{c}
		delete(out, "const")
	}

	for _, key := range []string{"items", "additionalProperties", "not"} {
		if sub, ok := out[key].(map[string]interface{}); ok {
			t, err := translate(sub)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = t
		}
	}
	if props, ok := out["properties"].(map[string]interface{}); ok {
		translated := make(map[string]interface{}, len(props))
		for name, p := range props {
			sub, ok := p.(map[string]interface{})
			if !ok {
				translated[name] = p
				continue
			}
			t, err := translate(sub)
			if err != nil {
				return nil, fmt.Errorf("properties.%s: %w", name, err)
			}
			translated[name] = t
		}
		out["properties"] = translated
	}
	for _, key := range []string{"allOf", "anyOf", "oneOf"} {
		list, ok := out[key].([]interface{})
		if !ok {
			continue
		}
		translated := make([]interface{}, len(list))
		for i, item := range list {
			sub, ok := item.(map[string]interface{})
			if !ok {
				translated[i] = item
				continue
			}
			t, err := translate(sub)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			translated[i] = t
		}
		out[key] = translated
	}
	return out, nil
}

func flatten(err error, into []string) []string {
	if multi, ok := err.(openapi3.MultiError); ok {
		for _, e := range multi {
			into = flatten(e, into)
		}
		return into
	}
	return append(into, describe(err))
}

func describe(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		if pointer := se.JSONPointer(); len(pointer) > 0 {
			return fmt.Sprintf("/%s: %s", strings.Join(pointer, "/"), se.Reason)
		}
		return se.Reason
	}
	return err.Error()
}

func normalize(value interface{}) (interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asArray(v interface{}) ([]interface{}, bool) {
	n, err := normalize(v)
	if err != nil {
		return nil, false
	}
	items, ok := n.([]interface{})
	return items, ok
}
