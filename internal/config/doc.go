// Package config defines tidekv's configuration structure.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: Config struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (required fields, path sanity)
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader and supports
// multiple sources: a YAML file, environment variables (TIDEKV_ prefix),
// and CLI flags.
package config
