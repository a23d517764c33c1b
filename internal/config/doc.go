// Package config loads the process configuration from a YAML file and
// ARENA_-prefixed environment variables, and carries the defaults every
// component falls back to.
package config
