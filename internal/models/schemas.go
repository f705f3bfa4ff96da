package models

import (
	"encoding/json"
	"fmt"
)

// ArtifactsProperty returns the JSON Schema fragment for the artifacts field
// every step result must carry. Artifact entries are opaque objects.
func ArtifactsProperty() map[string]interface{} {
	return map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": true,
		},
		"description": "Side artifacts produced by the task",
	}
}

// WithArtifacts returns a copy of schema that declares and requires the
// artifacts field. The input schema is not modified. A nil schema yields
// an object schema requiring only artifacts.
func WithArtifacts(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema)+3)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}

	props := map[string]interface{}{}
	if existing, ok := out["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	if _, ok := props[ArtifactsField]; !ok {
		props[ArtifactsField] = ArtifactsProperty()
	}
	out["properties"] = props

	required := []interface{}{}
	hasArtifacts := false
	switch existing := out["required"].(type) {
	case []interface{}:
		for _, r := range existing {
			if r == ArtifactsField {
				hasArtifacts = true
			}
			required = append(required, r)
		}
	case []string:
		for _, r := range existing {
			if r == ArtifactsField {
				hasArtifacts = true
			}
			required = append(required, r)
		}
	}
	if !hasArtifacts {
		required = append(required, ArtifactsField)
	}
	out["required"] = required

	return out
}

// checkArtifactsProperty rejects a schema that redeclares the artifacts
// field as anything but an array of objects.
func checkArtifactsProperty(schema map[string]interface{}) error {
	props, _ := schema["properties"].(map[string]interface{})
	declared, ok := props[ArtifactsField]
	if !ok {
		return nil
	}
	prop, ok := declared.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s property must be a schema object", ArtifactsField)
	}
	if typ, ok := prop["type"]; ok && typ != "array" {
		return fmt.Errorf("%s must be an array, got type %v", ArtifactsField, typ)
	}
	items, ok := prop["items"]
	if !ok {
		return nil
	}
	itemSchema, ok := items.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s items must be a schema object", ArtifactsField)
	}
	if typ, ok := itemSchema["type"]; ok && typ != "object" {
		return fmt.Errorf("%s items must be objects, got type %v", ArtifactsField, typ)
	}
	return nil
}

// RequiredFields lists the field names a schema declares as required.
func RequiredFields(schema map[string]interface{}) []string {
	var fields []string
	switch existing := schema["required"].(type) {
	case []interface{}:
		for _, r := range existing {
			if s, ok := r.(string); ok {
				fields = append(fields, s)
			}
		}
	case []string:
		fields = append(fields, existing...)
	}
	return fields
}

// SchemaJSON renders a schema map as a compact JSON string, the form
// the claude CLI accepts for --json-schema.
func SchemaJSON(schema map[string]interface{}) string {
	jsonBytes, _ := json.Marshal(schema)
	return string(jsonBytes)
}
