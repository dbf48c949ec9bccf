package api

import (
	"sort"

	"github.com/mattjoyce/rendergw/internal/tools"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one POST /tools/{name}
// operation per declared tool.
func buildOpenAPIDoc(declared []tools.Tool, version string) map[string]any {
	if version == "" {
		version = "dev"
	}

	sorted := make([]tools.Tool, len(declared))
	copy(sorted, declared)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	paths := map[string]any{}
	for _, tool := range sorted {
		paths["/tools/"+tool.Name] = map[string]any{
			"post": toolOperation(tool),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "rendergw",
			"version": version,
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": map[string]any{
				"ToolResult": map[string]any{
					"type":     "object",
					"required": []string{"content"},
					"properties": map[string]any{
						"content":           map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
						"structuredContent": map[string]any{"type": "object"},
						"isError":           map[string]any{"type": "boolean"},
					},
				},
			},
		},
	}
}

func toolOperation(tool tools.Tool) map[string]any {
	return map[string]any{
		"operationId": tool.Name,
		"summary":     tool.Description,
		"requestBody": map[string]any{
			"required": len(tool.InputSchema.Required) > 0,
			"content": map[string]any{
				"application/json": map[string]any{"schema": tool.InputSchema},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{
				"description": "Tool result; structuredContent.success reports the outcome",
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"$ref": "#/components/schemas/ToolResult"},
					},
				},
			},
			"400": map[string]any{"description": "Argument validation failed"},
			"404": map[string]any{"description": "Unknown tool"},
		},
	}
}
