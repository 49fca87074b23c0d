// Package config loads and validates the runtime's YAML configuration.
//
// Configuration resolves in three layers: hardcoded defaults, the YAML
// file, then GRAYLOGIC_* environment variable overrides. Validation
// runs once at load; the rest of the process treats the Config as
// immutable.
package config
