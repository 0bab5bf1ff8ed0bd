// Package storage provides the per-project SQLite database.
//
// One database file holds everything a project needs to resume incremental
// indexing:
//
//   - indexed_files: content hash of every committed file, per source kind
//   - segment_mappings: which segment ids belong to which file
//   - sources: when each source kind was last indexed
//   - vectors: the SQLite vector store (little-endian float32 BLOBs)
//   - segments_fts: the FTS5 keyword store
//
// # Transactions
//
// A file's mappings and record are written in one transaction so a crash
// never leaves a record claiming content that was not committed:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//	if err := tx.SaveMappings(ctx, mappings); err != nil {
//	    return err
//	}
//	if err := tx.UpsertFileRecord(ctx, rec); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// The connection pool holds a single connection, so an open transaction
// blocks other calls on the same SQLiteStorage until it finishes.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite; the sqlite_vec tag switches to
// github.com/mattn/go-sqlite3.
package storage
