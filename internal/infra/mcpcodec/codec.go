// Package mcpcodec converts MCP wire tool descriptors into domain tools.
package mcpcodec

import (
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolgate/internal/domain"
)

// metaEstimatedTokens and metaTags are the _meta keys a backend may use to
// annotate its tools. Both are optional.
const (
	metaEstimatedTokens = "estimatedTokens"
	metaTags            = "tags"
)

// ToolFromWire converts a wire tool descriptor into a registry entry owned by
// the named backend. A missing input schema defaults to {"type":"object"};
// a missing token estimate is derived from the definition size.
func ToolFromWire(backend string, tool *mcp.Tool) domain.Tool {
	if tool == nil {
		return domain.Tool{}
	}
	out := domain.Tool{
		ID:          domain.ToolID(backend, tool.Name),
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  schemaFromWire(tool.InputSchema),
		Tags:        tagsFromMeta(tool.Meta),
		Server:      backend,
	}
	out.EstimatedTokens = tokensFromMeta(tool.Meta)
	if out.EstimatedTokens <= 0 {
		out.EstimatedTokens = estimateTokens(out)
	}
	return out
}

// ToolsFromWire converts a whole discovery reply, skipping nameless entries.
func ToolsFromWire(backend string, tools []*mcp.Tool) []domain.Tool {
	out := make([]domain.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		out = append(out, ToolFromWire(backend, tool))
	}
	return out
}

// IsObjectSchema reports whether a schema value is a JSON object schema with
// type "object". The gateway never interprets schema contents beyond this.
func IsObjectSchema(schema any) bool {
	if schema == nil {
		return false
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	if typ, ok := obj["type"]; ok {
		if val, ok := typ.(string); ok {
			return strings.EqualFold(val, "object")
		}
	}
	return false
}

func schemaFromWire(schema any) json.RawMessage {
	if schema == nil {
		return domain.DefaultParametersSchema()
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return domain.DefaultParametersSchema()
	}
	if !IsObjectSchema(schema) {
		return domain.DefaultParametersSchema()
	}
	return raw
}

func tagsFromMeta(meta mcp.Meta) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta[metaTags]
	if !ok {
		return nil
	}
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		tag, ok := v.(string)
		if !ok || tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func tokensFromMeta(meta mcp.Meta) int {
	if meta == nil {
		return 0
	}
	raw, ok := meta[metaEstimatedTokens]
	if !ok {
		return 0
	}
	switch typed := raw.(type) {
	case float64:
		if typed < 0 {
			return 0
		}
		return int(typed)
	case json.Number:
		n, err := typed.Int64()
		if err != nil || n < 0 {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// estimateTokens approximates the prompt cost of exposing a tool definition:
// roughly one token per four bytes of name, description and schema.
func estimateTokens(tool domain.Tool) int {
	size := len(tool.Name) + len(tool.Description) + len(tool.Parameters)
	tokens := size / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
