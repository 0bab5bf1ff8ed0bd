// Package watcher keeps a folder index current between full runs.
//
// A Watcher registers every non-excluded directory below a root with
// fsnotify, including directories created later. Events are debounced per
// path; when a path settles the change is applied on the shared worker pool:
//
//	create, write       Handler.IndexPath
//	remove, rename      Handler.RemovePath (directories remove everything below)
//
// Edits to ignore files invalidate the cached rules of their repository, so
// later decisions see the new patterns. Manager enforces that at most one
// watcher is active at a time.
package watcher
