// Package indexer embeds chunks in batches and keeps the vector store, the
// keyword store and the segment mapping table consistent with each other.
//
// # Batch Commit
//
// Chunks are buffered until the batch size is reached or FlushRemaining is
// called. A flush runs, under the project's write lock:
//
//  1. Embed: one GenerateBatch call per provider-sized sub-batch
//  2. Assign IDs: projectID:filePath:chunkIndex:uuid
//  3. Vector store: AddVectors
//  4. Keyword store: IndexSegments
//  5. State: one transaction saving the mappings and the records of every
//     file whose last chunk was in the batch
//
// If any step fails the segments written so far are removed from both
// stores and the error wraps ErrBatchFailed. A file's record is only
// written with its final mappings, so an interrupted file is picked up
// again by the next run.
//
// # Removal
//
// RemoveFile reverses the order: look up the file's segment IDs, delete
// them from the vector store and the keyword store, then drop the mappings
// and the record in one transaction. ReplaceFile removes and re-buffers a
// file under one lock; coordinators use it for every changed file, so a
// watcher update racing a full run leaves a single copy.
//
// # Locking
//
// IndexLock is a non-blocking try-lock held by a coordinator for one run.
// ProjectLocks serializes writers across every source kind of a project.
package indexer
