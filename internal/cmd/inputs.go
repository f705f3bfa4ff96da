package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// collectInputs merges the --inputs file with --input key=value pairs.
// Pairs win over the file. Pair values are decoded as YAML scalars so that
// numbers and booleans keep their type; anything else stays a string.
func collectInputs(pairs []string, inputsFile string) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	if inputsFile != "" {
		data, err := os.ReadFile(inputsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs file: %w", err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse inputs file %s: %w", inputsFile, err)
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q: expected key=value", pair)
		}
		inputs[key] = inputValue(raw)
	}

	return inputs, nil
}

func inputValue(raw string) interface{} {
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case bool, int, float64:
		return v
	default:
		return raw
	}
}
