// Package backend provides remote implementations of the vector and keyword
// stores consumed by the indexer.
//
// QdrantVectorStore writes segment vectors to a Qdrant collection over gRPC,
// creating the collection with cosine distance on first use. Point IDs are
// name-based UUIDs derived from segment IDs, so removals need no lookup.
//
// ElasticKeywordStore writes segment text to an Elasticsearch index with the
// bulk API. Documents carry the project ID and ClearSegments deletes by that
// field only.
//
// The SQLite storage in package storage implements both interfaces as well
// and remains the default; the config selects a backend per store.
package backend
