// Package types provides shared type definitions for kbsync.
//
// # Knowledge Sources
//
// KnowledgeSourceConfig is a closed set of variants. Callers dispatch on it
// with a type switch:
//
//	switch src := cfg.(type) {
//	case types.FolderSource:
//	case types.FileListSource:
//	case types.URLListSource:
//	}
//
// # Records
//
// IndexedFileRecord and SegmentMapping are the persisted incremental state.
// Segment identifiers have the form projectID:filePath:chunkIndex:uuid.
package types
