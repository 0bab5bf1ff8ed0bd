// Package filter decides which paths are indexed.
//
// A Chain runs Filters in ascending Priority and short-circuits on the
// first exclusion. The built-in chain, in order:
//
//	ignore-rules   gitignore-style rules (see package ignore)
//	binary-hidden  dotfiles, dot-directories and binary extensions
//	size           files above the configured byte limit
//	ecosystem      build output and dependency directories
//	user-regex     configured exclude expressions on the relative path
//
// The chain root is never excluded, whatever the filters say.
package filter
