// Package logger provides structured logging for tidekv.
//
// It wraps log/slog for structured logging:
//
//   - logger.go: logger construction, level control, the default instance
//   - context.go: context-aware logging with request/trace IDs
//   - redact.go: sensitive data redaction (auth catalog keys, oversized
//     values, and fields named like passwords/secrets/tokens)
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering
//   - Automatic sensitive data masking
//   - Context propagation for request tracing
package logger
