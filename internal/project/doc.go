// Package project is the entry point used by the CLI and the MCP server.
//
// A Service owns one project: its SQLite database under the data directory,
// the vector and keyword stores selected by the config (SQLite by default,
// Qdrant and Elasticsearch optionally), the embedder, a shared worker pool,
// the filter chain and one coordinator per source kind. Binding a source of
// a kind that is already bound to a different source replaces the old
// coordinator.
//
// Watching goes through a watcher.Manager which may be shared between
// services to keep a single watcher active process-wide.
package project
