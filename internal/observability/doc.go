// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the review orchestrator.
//
// Log records carry request and run correlation ids pulled from the
// context, and sensitive values (tokens, webhook secrets) are redacted
// before emission.
package observability
