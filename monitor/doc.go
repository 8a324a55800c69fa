// Package monitor holds the Prometheus metrics and OpenTelemetry tracing
// used by the dispatcher and the sandbox backends.
package monitor
