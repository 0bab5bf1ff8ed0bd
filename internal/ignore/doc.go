// Package ignore evaluates gitignore-style exclusion rules.
//
// Rules are read lazily per directory and anchored to the directory of the
// file that declared them. Deeper files are consulted after shallower ones,
// and within a file later lines win, so a "!pattern" in a subdirectory can
// re-include what the repository root excluded. Global rules
// (core.excludesfile, the system gitconfig, $XDG_CONFIG_HOME/git/ignore)
// have the lowest precedence, followed by .git/info/exclude.
//
// Pattern matching is delegated to go-git's gitignore package. Compiled rule
// sets are cached in an LRU keyed by repository root.
package ignore
