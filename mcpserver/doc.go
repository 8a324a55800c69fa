// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the orchestrator to MCP clients through the
// mark3labs/mcp-go library. It registers four tools: run_code classifies a
// snippet and executes it, get_run and list_runs read the run tracker, and
// clear_runs resets it.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, dispatcher, tracker)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
