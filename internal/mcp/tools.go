package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/kbsync/internal/coordinator"
	"github.com/dshills/kbsync/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeInvalidSource      = -32001 // Source description is unusable
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeProjectUnavailable = -32003 // Project store could not be opened
)

// handleIndexSource handles the index_source tool invocation
func (s *Server) handleIndexSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}
	rawKind, err := requireString(args, "kind")
	if err != nil {
		return nil, err
	}
	kind, err := types.ParseSourceKind(rawKind)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
			"param":  "kind",
			"reason": err.Error(),
		})
	}

	src, err := parseSource(kind, args)
	if err != nil {
		return nil, err
	}

	svc, err := s.project(id)
	if err != nil {
		return nil, projectError(err)
	}

	if !getBoolDefault(args, "wait", false) {
		started, err := svc.StartIndexing(src)
		if err != nil {
			return nil, sourceError(err)
		}
		if !started {
			return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
				"kind": string(kind),
			})
		}
		response := map[string]interface{}{
			"started": true,
			"project": id,
			"kind":    string(kind),
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	start := time.Now()
	progress, err := svc.Run(ctx, src)
	if errors.Is(err, coordinator.ErrAlreadyRunning) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"kind": string(kind),
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error":    err.Error(),
			"progress": progressJSON(progress),
		})
	}

	response := progressJSON(progress)
	response["project"] = id
	response["duration_ms"] = time.Since(start).Milliseconds()
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	svc, err := s.project(id)
	if err != nil {
		return nil, projectError(err)
	}

	stats, err := svc.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sources := make([]interface{}, 0, len(stats))
	for _, st := range stats {
		entry := map[string]interface{}{
			"kind":     string(st.Kind),
			"files":    st.Files,
			"segments": st.Segments,
		}
		if !st.LastIndexedAt.IsZero() {
			entry["last_indexed_at"] = st.LastIndexedAt.Format(time.RFC3339)
		}
		sources = append(sources, entry)
	}

	runs := make([]interface{}, 0)
	for _, p := range svc.Progress() {
		runs = append(runs, progressJSON(p))
	}

	response := map[string]interface{}{
		"project":  id,
		"indexed":  len(stats) > 0,
		"sources":  sources,
		"progress": runs,
		"watching": svc.Watching(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	var kind types.SourceKind
	if raw := getStringDefault(args, "kind", ""); raw != "" {
		if kind, err = types.ParseSourceKind(raw); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
				"param":  "kind",
				"reason": err.Error(),
			})
		}
	}

	svc, err := s.project(id)
	if err != nil {
		return nil, projectError(err)
	}
	if err := svc.ClearAll(ctx, kind); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "clear failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	cleared := "all"
	if kind != "" {
		cleared = string(kind)
	}
	response := map[string]interface{}{
		"cleared": cleared,
		"project": id,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStartWatching handles the start_watching tool invocation
func (s *Server) handleStartWatching(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}
	root, err := requireString(args, "root")
	if err != nil {
		return nil, err
	}
	if err := validatePath(root); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid root", map[string]interface{}{
			"param":  "root",
			"reason": err.Error(),
		})
	}

	svc, err := s.project(id)
	if err != nil {
		return nil, projectError(err)
	}

	previous := s.watchers.Active()
	if err := svc.StartWatching(ctx, root); err != nil {
		return nil, sourceError(err)
	}

	response := map[string]interface{}{
		"watching": svc.Watching(),
		"project":  id,
	}
	if previous != "" && previous != svc.Watching() {
		response["replaced"] = previous
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleStopWatching handles the stop_watching tool invocation
func (s *Server) handleStopWatching(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id, err := requireString(args, "project")
	if err != nil {
		return nil, err
	}

	svc, err := s.project(id)
	if err != nil {
		return nil, projectError(err)
	}
	stopped := svc.Watching()
	if err := svc.StopWatching(); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to stop watcher", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"stopped": stopped != "",
		"project": id,
	}
	if stopped != "" {
		response["root"] = stopped
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// parseSource builds the source description of kind from args
func parseSource(kind types.SourceKind, args map[string]interface{}) (types.KnowledgeSourceConfig, error) {
	var src types.KnowledgeSourceConfig
	switch kind {
	case types.SourceFolders:
		root, err := requireString(args, "root")
		if err != nil {
			return nil, err
		}
		if err := validatePath(root); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid root", map[string]interface{}{
				"param":  "root",
				"reason": err.Error(),
			})
		}
		src = types.FolderSource{Root: root}
	case types.SourceFiles:
		paths, err := requireStrings(args, "paths")
		if err != nil {
			return nil, err
		}
		src = types.FileListSource{Paths: paths}
	case types.SourceURLs:
		urls, err := requireStrings(args, "urls")
		if err != nil {
			return nil, err
		}
		src = types.URLListSource{URLs: urls}
	}

	if err := src.Validate(); err != nil {
		return nil, sourceError(err)
	}
	return src, nil
}

// sourceError maps source validation failures to their MCP code
func sourceError(err error) error {
	if errors.Is(err, types.ErrInvalidSource) {
		return newMCPError(ErrorCodeInvalidSource, "invalid source", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return newMCPError(ErrorCodeInternalError, "operation failed", map[string]interface{}{
		"error": err.Error(),
	})
}

func projectError(err error) error {
	return newMCPError(ErrorCodeProjectUnavailable, "project unavailable", map[string]interface{}{
		"error": err.Error(),
	})
}

// progressJSON renders a progress snapshot for tool responses
func progressJSON(p types.IndexProgress) map[string]interface{} {
	out := map[string]interface{}{
		"kind":            string(p.Kind),
		"status":          string(p.Status),
		"processed_files": p.ProcessedFiles,
		"total_files":     p.TotalFiles,
		"skipped_files":   p.SkippedFiles,
		"removed_files":   p.RemovedFiles,
		"segments":        p.Segments,
	}
	if p.Error != "" {
		out["error"] = p.Error
	}
	return out
}

// validatePath checks that path is an absolute, readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// requireString extracts a non-empty string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// requireStrings extracts a non-empty string array parameter
func requireStrings(args map[string]interface{}, key string) ([]string, error) {
	var out []string
	switch v := args[key].(type) {
	case []string:
		out = v
	case []interface{}:
		out = make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, newMCPError(ErrorCodeInvalidParams, key+" must contain strings", map[string]interface{}{
					"param":  key,
					"reason": fmt.Sprintf("unexpected element %T", item),
				})
			}
			out = append(out, str)
		}
	}
	if len(out) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return out, nil
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
