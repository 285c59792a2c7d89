package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                             `{"a":1}`,
		"```json\n{\"a\":1}\n```":             `{"a":1}`,
		"```\n{\"a\":{\"b\":2}}\n```":         `{"a":{"b":2}}`,
		"Here you go: {\"a\":1} hope it helps": `{"a":1}`,
	}
	for in, want := range cases {
		got, err := ExtractJSON(in)
		require.NoError(t, err, in)
		assert.JSONEq(t, want, got)
	}

	_, err := ExtractJSON("no json here")
	assert.Error(t, err)
	_, err = ExtractJSON(`{"a": }`)
	assert.Error(t, err)
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []string{"courses"},
		"properties": map[string]any{
			"courses": map[string]any{"type": "array"},
		},
	}
	assert.NoError(t, ValidateJSONAgainstSchema(schema, []byte(`{"courses":[]}`)))
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(`{"courses":"none"}`)))
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(`{}`)))
}
