// Package state is the incremental state store. It remembers, per project
// and source kind, the content hash each file had when it was last
// committed, and computes what a new run has to add, update or remove.
package state
