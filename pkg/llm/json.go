package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedOutput marks answers that are not JSON or do not match the request schema.
var ErrMalformedOutput = errors.New("malformed model output")

// decodeAnswer turns the raw completion text into validated JSON bytes.
func decodeAnswer(content string, req Request) ([]byte, error) {
	cleaned, err := ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if req.Schema != nil {
		if err := ValidateJSONAgainstSchema(req.Schema, []byte(cleaned)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	}
	return []byte(cleaned), nil
}

// ExtractJSON strips markdown fences and surrounding prose from a model answer
// and returns the outermost JSON object.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no json object in model output")
	}
	content = content[start : end+1]
	if !json.Valid([]byte(content)) {
		return "", fmt.Errorf("model output is not valid json")
	}
	return content, nil
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
