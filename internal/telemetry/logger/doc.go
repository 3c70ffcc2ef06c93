// Package logger provides structured logging for ConcordKV.
//
// This package wraps log/slog for structured logging:
//
//   - logger.go: handler configuration and initialization
//   - context.go: context-aware logging with request/trace IDs
//   - redact.go: sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering, adjustable at runtime
//   - Automatic redaction of credential-shaped fields
//   - Context propagation for request tracing
package logger
