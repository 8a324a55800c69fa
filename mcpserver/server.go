package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/dispatcher"
	"github.com/isdmx/codecell/logger"
	"github.com/isdmx/codecell/runstate"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	tracker    *runstate.Tracker
	mcpServer  *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, d *dispatcher.Dispatcher, tracker *runstate.Tracker) (*MCPServer, error) {
	s := &MCPServer{
		config:     cfg,
		logger:     logger.Named("mcp"),
		dispatcher: d,
		tracker:    tracker,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.metrics_port", cfg.Server.MetricsPort),
		zap.String("python.runtime", cfg.Python.Runtime),
		zap.String("python.packages_dir", cfg.Python.PackagesDir),
		zap.Bool("python.install_packages", cfg.Python.InstallPackages),
		zap.String("script.backend", cfg.Script.Backend),
		zap.String("script.root_dir", cfg.Script.RootDir),
		zap.String("script.image", cfg.Script.Image),
		zap.Bool("script.network_enabled", cfg.Script.NetworkEnabled),
	)

	s.mcpServer = server.NewMCPServer("codecell", "Runs Python, JavaScript and TypeScript snippets in sandboxes")

	s.registerRunCodeTool()
	s.registerRunTools()

	return s, nil
}

func (s *MCPServer) registerRunCodeTool() {
	tool := mcp.Tool{
		Name:        "run_code",
		Description: "Run a code snippet, optionally wrapped in a fenced block, and return its run record",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Snippet to run; a ```python, ```js or ```ts fence selects the language",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language override (optional)",
					"enum":        []string{classifier.NamePython, classifier.NameJavaScript, classifier.NameTypeScript},
				},
				"wait": map[string]any{
					"type":        "boolean",
					"description": "Wait for the run to finish (default true); otherwise return the queued record",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunCode)
}

func (s *MCPServer) registerRunTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_run",
		Description: "Return the record of one run",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "Run id returned by run_code",
				},
			},
			Required: []string{"id"},
		},
	}, s.handleGetRun)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_runs",
		Description: "Return every tracked run in the order it was started",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleListRuns)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "clear_runs",
		Description: "Remove every tracked run",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleClearRuns)
}

// handleRunCode handles the run_code tool
func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	sub := classifier.Classify(code)
	if override := request.GetString("language", ""); override != "" {
		lang, ok := classifier.ParseLanguage(override)
		if !ok {
			return errorResult(fmt.Sprintf("unsupported language: %s", override)), nil
		}
		sub = sub.WithLanguage(lang)
	}

	if !sub.Runnable() || !s.dispatcher.CanRun(sub.InferredLanguage) {
		return errorResult(fmt.Sprintf("unsupported language: %s", sub.DeclaredLanguage)), nil
	}

	runID := dispatcher.NewRunID()
	s.logger.Info("code execution requested", logger.RunFields(runID, sub.InferredLanguage.String())...)

	if !request.GetBool("wait", true) {
		if _, err := s.dispatcher.DispatchAsync(ctx, sub.CleanedCode, sub.InferredLanguage, runID); err != nil {
			return errorResult(err.Error()), nil
		}
		run, _ := s.tracker.Get(runID)
		return runResult(run)
	}

	run, err := s.dispatcher.Dispatch(ctx, sub.CleanedCode, sub.InferredLanguage, runID)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return runResult(run)
}

// handleGetRun handles the get_run tool
func (s *MCPServer) handleGetRun(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return nil, fmt.Errorf("id parameter is required: %w", err)
	}

	run, ok := s.tracker.Get(id)
	if !ok {
		return errorResult(fmt.Sprintf("run not found: %s", id)), nil
	}
	return runResult(run)
}

// handleListRuns handles the list_runs tool
func (s *MCPServer) handleListRuns(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(s.tracker.List())
	if err != nil {
		return nil, fmt.Errorf("failed to encode runs: %w", err)
	}
	return textResult(string(data), false), nil
}

// handleClearRuns handles the clear_runs tool
func (s *MCPServer) handleClearRuns(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := s.tracker.Len()
	s.tracker.Clear()
	s.logger.Info("runs cleared", zap.Int("count", n))
	return textResult(fmt.Sprintf("cleared %d runs", n), false), nil
}

// runResult renders a run as its JSON record followed by one image content
// per image output.
func runResult(run runstate.Run) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}

	result := textResult(string(data), run.Status == runstate.StatusFailed)
	for _, out := range run.Outputs {
		if out.Kind != runstate.OutputImage {
			continue
		}
		result.Content = append(result.Content, mcp.ImageContent{
			Type:     "image",
			Data:     strings.TrimPrefix(out.Value, runstate.ImagePrefix),
			MIMEType: "image/png",
		})
	}
	return result, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return textResult(text, true)
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for testing
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
