// Package workerpool wraps an ants goroutine pool shared across indexing
// runs and the file watcher, so concurrent sources cannot oversubscribe
// disk and CPU.
package workerpool
