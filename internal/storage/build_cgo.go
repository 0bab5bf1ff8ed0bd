//go:build sqlite_vec
// +build sqlite_vec

package storage

// Compiled with the sqlite_vec tag: the cgo driver, which needs the fts5
// tag for the keyword store.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
