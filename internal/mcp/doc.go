// Package mcp implements the Model Context Protocol (MCP) server for kbsync.
//
// The MCP server exposes five tools to AI assistants:
//   - index_source: Index a folder, file list or URL list incrementally
//   - get_status: Report progress and per-kind statistics of a project
//   - clear_index: Remove everything indexed for one kind, or for all kinds
//   - start_watching: Keep a folder's index current as files change
//   - stop_watching: Stop the active watcher of a project
//
// Every tool takes a "project" argument. Projects are opened lazily, each with
// its own SQLite database under the data directory, and share a single file
// watcher: starting to watch a folder stops whatever was watched before.
//
// # Tool: index_source
//
//	Request:
//	{
//	  "name": "index_source",
//	  "arguments": {
//	    "project": "handbook",
//	    "kind": "folders",
//	    "root": "/srv/handbook",
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "kind": "folders",
//	  "status": "ready",
//	  "processed_files": 42,
//	  "total_files": 42,
//	  "skipped_files": 3,
//	  "removed_files": 0,
//	  "segments": 310,
//	  "duration_ms": 5120
//	}
//
// Without "wait" the run starts in the background and the response only
// reports {"started": true}; poll get_status for progress.
//
// # Error Handling
//
// Errors are returned as *MCPError values:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, embedding provider, etc.)
//   - -32001: Invalid source
//   - -32002: Indexing in progress
//   - -32003: Project unavailable
//
// # Logging
//
// The server logs to stderr, stdout is reserved for the protocol.
package mcp
