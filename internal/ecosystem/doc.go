// Package ecosystem detects project types from marker files (go.mod,
// package.json, build.gradle, ...) and maps them to the build output and
// dependency directories that should never be indexed. Polyglot
// repositories get the union of every detected ecosystem's exclusions.
package ecosystem
