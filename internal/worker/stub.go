package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/harrison/relay/internal/models"
)

// Stub fabricates a minimal result conforming to the task's result schema.
// It backs dry runs, where process wiring is exercised without real work.
type Stub struct{}

// Execute implements Worker.
func (Stub) Execute(ctx context.Context, spec models.TaskSpec, args models.Args) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value := stubValue(spec.Name, spec.ResultSchema)
	result, ok := value.(map[string]interface{})
	if !ok {
		result = map[string]interface{}{}
	}
	result[models.ArtifactsField] = []interface{}{
		map[string]interface{}{"task": spec.Name, "stub": true},
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode stub result: %w", err)
	}
	return data, nil
}

// stubValue returns the simplest value satisfying schema. Objects get only
// their required properties.
func stubValue(name string, schema map[string]interface{}) interface{} {
	if schema == nil {
		return nil
	}
	if enum, ok := schema["enum"].([]interface{}); ok && len(enum) > 0 {
		return enum[0]
	}
	if v, ok := schema["default"]; ok {
		return v
	}

	switch schema["type"] {
	case "string":
		return fmt.Sprintf("<%s>", name)
	case "integer", "number":
		if lower, ok := schema["minimum"]; ok {
			return lower
		}
		return 0
	case "boolean":
		return false
	case "array":
		items, _ := schema["items"].(map[string]interface{})
		n := 0
		switch m := schema["minItems"].(type) {
		case int:
			n = m
		case float64:
			n = int(m)
		}
		out := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, stubValue(name, items))
		}
		return out
	default:
		props, _ := schema["properties"].(map[string]interface{})
		out := map[string]interface{}{}
		required := models.RequiredFields(schema)
		sort.Strings(required)
		for _, field := range required {
			sub, _ := props[field].(map[string]interface{})
			out[field] = stubValue(field, sub)
		}
		return out
	}
}
