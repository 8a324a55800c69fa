// Package main is the entry point for the codecell MCP server.
//
// The server exposes the execution orchestrator over the Model Context
// Protocol: clients submit Python, JavaScript or TypeScript snippets, the
// orchestrator classifies each one, routes it to the matching sandbox and
// tracks the run until it completes or fails. Both stdio and HTTP transports
// are supported, and Prometheus metrics can be served on a separate port.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
