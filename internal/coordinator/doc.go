// Package coordinator drives indexing of one knowledge source.
//
// A coordinator exists per source kind: FolderCoordinator walks a
// directory, FileListCoordinator reads an explicit list of files and
// URLCoordinator fetches remote documents. They share one pipeline:
//
//  1. Enumerate candidates, streamed, through the filter chain
//  2. Hash every candidate on the shared worker pool
//  3. Diff against the previous state
//  4. Remove deleted files from both stores
//  5. Extract and chunk added and updated files on the pool; a single
//     flusher goroutine removes each file's old segments and adds the new
//     ones through a bounded channel
//  6. Flush the last batch and report Ready, or Failed with the error
//
// Runs are idempotent: a second run without changes embeds nothing.
package coordinator
