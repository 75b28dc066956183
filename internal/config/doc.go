// Package config loads fxd configuration.
//
// Precedence, lowest first: Default(), a YAML file passed to Load, then
// FXD_* environment variables applied by FromEnv. Validate checks the
// merged result.
package config
