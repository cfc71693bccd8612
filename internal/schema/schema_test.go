package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandInput struct {
	Command string `json:"command" jsonschema:"description=Shell command to run"`
	Timeout *int   `json:"timeout,omitempty" jsonschema:"description=Seconds before the command is aborted"`
	Verbose bool   `json:"verbose,omitempty"`
}

type emptyInput struct{}

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestGenerate(t *testing.T) {
	raw, err := Generate[commandInput]()
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.Equal(t, "object", doc["type"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "command")
	require.Contains(t, props, "timeout")
	require.Contains(t, props, "verbose")

	command := props["command"].(map[string]any)
	assert.Equal(t, "string", command["type"])
	assert.Equal(t, "Shell command to run", command["description"])

	// Pointer fields collapse to their non-null branch.
	timeout := props["timeout"].(map[string]any)
	assert.Equal(t, "integer", timeout["type"])

	// Only fields without omitempty are required.
	required, ok := doc["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"command"}, required)
}

func TestGenerate_EmptyStruct(t *testing.T) {
	raw, err := Generate[emptyInput]()
	require.NoError(t, err)

	doc := decode(t, raw)
	assert.Equal(t, "object", doc["type"])
	assert.NotContains(t, doc, "required")
}

func TestMustGenerate(t *testing.T) {
	raw := MustGenerate[commandInput]()
	assert.NotEmpty(t, raw)
	assert.JSONEq(t, string(MustGenerate[commandInput]()), string(raw))
}
