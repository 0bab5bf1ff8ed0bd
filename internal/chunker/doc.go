// Package chunker splits extracted text into overlapping windows sized for
// the embedding model.
//
// Chunk size is derived from the model token limit:
//
//	size    = min(max, max(min, floor(0.8 * tokenLimit * charsPerToken)))
//	overlap = clamp(5% of size, 50, max), forced below size
//
// Text from plain-text sources keeps 1-based line ranges; text derived from
// binary documents does not.
package chunker
