package mcpcodec

import (
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryToolSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "estimatedTokens", "server"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "tags": { "type": "array", "items": { "type": "string" } },
    "parameters": { "type": "object" },
    "estimatedTokens": { "type": "integer", "minimum": 0 },
    "server": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

func TestToolFromWire(t *testing.T) {
	wire := &mcp.Tool{
		Name:        "search",
		Description: "Full-text search over indexed documents",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
		},
		Meta: mcp.Meta{
			"tags":            []any{"search", "documents", "search"},
			"estimatedTokens": float64(120),
		},
	}

	tool := ToolFromWire("docs", wire)

	assert.Equal(t, "docs_search", tool.ID)
	assert.Equal(t, "search", tool.Name)
	assert.Equal(t, "docs", tool.Server)
	assert.Equal(t, 120, tool.EstimatedTokens)
	assert.Equal(t, []string{"search", "documents"}, tool.Tags)
	assert.True(t, IsObjectSchema(json.RawMessage(tool.Parameters)))
}

func TestToolFromWireDefaultsSchema(t *testing.T) {
	tool := ToolFromWire("calc", &mcp.Tool{Name: "add"})

	assert.JSONEq(t, `{"type":"object"}`, string(tool.Parameters))
	assert.Positive(t, tool.EstimatedTokens)
}

func TestToolFromWireRejectsNonObjectSchema(t *testing.T) {
	tool := ToolFromWire("calc", &mcp.Tool{
		Name:        "add",
		InputSchema: map[string]any{"type": "array"},
	})

	assert.JSONEq(t, `{"type":"object"}`, string(tool.Parameters))
}

func TestToolFromWireIgnoresNegativeTokenEstimate(t *testing.T) {
	tool := ToolFromWire("calc", &mcp.Tool{
		Name: "add",
		Meta: mcp.Meta{"estimatedTokens": float64(-5)},
	})

	assert.Positive(t, tool.EstimatedTokens)
}

func TestToolsFromWireSkipsNameless(t *testing.T) {
	tools := ToolsFromWire("calc", []*mcp.Tool{
		nil,
		{Name: ""},
		{Name: "add"},
		{Name: "sub"},
	})

	require.Len(t, tools, 2)
	assert.Equal(t, "calc_add", tools[0].ID)
	assert.Equal(t, "calc_sub", tools[1].ID)
}

func TestRegistryToolMatchesSchema(t *testing.T) {
	tool := ToolFromWire("docs", &mcp.Tool{
		Name:        "search",
		Description: "Full-text search",
		Meta:        mcp.Meta{"tags": []any{"search"}},
	})

	payload, err := json.Marshal(tool)
	require.NoError(t, err)

	var schema jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(registryToolSchema), &schema))
	resolved, err := schema.Resolve(nil)
	require.NoError(t, err)

	var decoded any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.NoError(t, resolved.Validate(decoded))
}

func TestIsObjectSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema any
		want   bool
	}{
		{"nil", nil, false},
		{"object", map[string]any{"type": "object"}, true},
		{"case insensitive", map[string]any{"type": "Object"}, true},
		{"array", map[string]any{"type": "array"}, false},
		{"missing type", map[string]any{"properties": map[string]any{}}, false},
		{"raw json", json.RawMessage(`{"type":"object"}`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsObjectSchema(tt.schema))
		})
	}
}
