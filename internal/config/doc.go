// Package config loads kbsync configuration from an optional YAML file and
// environment variables.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, the
// environment. Validate clamps inconsistent chunk bounds with a warning
// rather than failing, so a bad setting degrades indexing instead of
// preventing it.
package config
