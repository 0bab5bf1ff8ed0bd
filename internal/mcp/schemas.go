package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var projectProperty = map[string]interface{}{
	"type":        "string",
	"description": "Project identifier; each project keeps its own index",
}

// indexSourceTool returns the tool definition for index_source
func indexSourceTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_source",
		Description: "Index a knowledge source (folder, file list or URL list) incrementally. Unchanged content is not re-embedded.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty,
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Source kind",
					"enum":        []string{"folders", "files", "urls"},
				},
				"root": map[string]interface{}{
					"type":        "string",
					"description": "Absolute folder path (kind=folders)",
				},
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Absolute file paths (kind=files)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"urls": map[string]interface{}{
					"type":        "array",
					"description": "http(s) URLs (kind=urls)",
					"items":       map[string]interface{}{"type": "string"},
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, block until the run finishes and return its result",
					"default":     false,
				},
			},
			Required: []string{"project", "kind"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report indexing progress and per-kind statistics for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty,
			},
			Required: []string{"project"},
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Remove everything indexed for one source kind, or for all kinds when kind is omitted",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty,
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Source kind to clear; all kinds when omitted",
					"enum":        []string{"folders", "files", "urls"},
				},
			},
			Required: []string{"project"},
		},
	}
}

// startWatchingTool returns the tool definition for start_watching
func startWatchingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "start_watching",
		Description: "Watch a folder and keep its index current. Replaces any active watcher.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty,
				"root": map[string]interface{}{
					"type":        "string",
					"description": "Absolute folder path to watch",
				},
			},
			Required: []string{"project", "root"},
		},
	}
}

// stopWatchingTool returns the tool definition for stop_watching
func stopWatchingTool() mcp.Tool {
	return mcp.Tool{
		Name:        "stop_watching",
		Description: "Stop watching the folder of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project": projectProperty,
			},
			Required: []string{"project"},
		},
	}
}
