// Package content turns files and remote documents into text.
//
// Plain text files keep line tracking. Registered document formats (.docx,
// .html) and fetched HTML pages produce text without it. Unsupported or
// empty input yields a nil Document and no error, so callers can count it
// as skipped.
package content
