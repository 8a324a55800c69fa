// Package logger builds the zap loggers used by codecell.
//
// Logs always go to stderr: stdout belongs to the MCP stdio transport in
// cmd/server and to run output in cmd/codecell. Every line about a single
// run carries the run_id and language fields, attached with WithRun or
// RunFields so the dispatcher, the MCP tools and the CLI agree on keys.
//
// Usage:
//
//	log, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	runLog := logger.WithRun(log, runID, "python")
//	runLog.Info("run dispatched")
package logger
