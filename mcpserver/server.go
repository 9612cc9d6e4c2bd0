package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codelab/config"
	"github.com/isdmx/codelab/engine"
	"github.com/isdmx/codelab/harness"
	"github.com/isdmx/codelab/protocol"
	"github.com/isdmx/codelab/sandbox"
)

// Engine is the part of engine.Engine the tools call.
type Engine interface {
	Execute(ctx context.Context, code string) protocol.ExecutionResult
	RunTests(ctx context.Context, code string, cases []harness.TestCase) engine.Report
	RunSuite(ctx context.Context, code, suiteID string) (engine.Report, error)
	Suites() []string
	State() sandbox.State
	Restart(ctx context.Context) error
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	engine     Engine
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// StatusResponse is the sandbox_status tool payload.
type StatusResponse struct {
	Language string        `json:"language"`
	Backend  string        `json:"backend"`
	State    sandbox.State `json:"state"`
	Suites   []string      `json:"suites"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, eng Engine) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger.Named("mcp"),
		engine: eng,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.language", cfg.Sandbox.Language),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.String("sandbox.busy_policy", cfg.Sandbox.BusyPolicy),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.String("languages.active.image", cfg.ActiveLanguage().Image),
	)

	s.mcpServer = server.NewMCPServer("codelab", "1.0.0")
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

func (s *MCPServer) registerTools() {
	codeProperty := map[string]any{
		"type":        "string",
		"description": fmt.Sprintf("%s source code", s.config.Sandbox.Language),
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "execute_code",
		Description: "Run code in the sandbox and return its stdout, stderr, error and execution time",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"code": codeProperty},
			Required:   []string{"code"},
		},
	}, s.handleExecuteCode)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run_tests",
		Description: "Run code against test cases; each test appends its input snippet to the code and compares stdout with the expected output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": codeProperty,
				"tests": map[string]any{
					"type":        "array",
					"description": "Ordered test cases",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":             map[string]any{"type": "string"},
							"name":           map[string]any{"type": "string"},
							"input":          map[string]any{"type": "string"},
							"expectedOutput": map[string]any{"type": "string"},
							"hidden":         map[string]any{"type": "boolean"},
						},
						"required": []string{"input", "expectedOutput"},
					},
				},
			},
			Required: []string{"code", "tests"},
		},
	}, s.handleRunTests)

	suiteProperty := map[string]any{
		"type":        "string",
		"description": "Suite id",
	}
	if ids := s.engine.Suites(); len(ids) > 0 {
		suiteProperty["enum"] = ids
	}

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run_suite",
		Description: "Run code against a registered test suite",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"code": codeProperty, "suite": suiteProperty},
			Required:   []string{"code", "suite"},
		},
	}, s.handleRunSuite)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "sandbox_status",
		Description: "Report the sandbox lifecycle state and the available suites",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleSandboxStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "restart_sandbox",
		Description: "Replace the sandbox with a fresh one; use after a sandbox error or a stuck execution",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, s.handleRestartSandbox)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	s.logger.Info("code execution requested", zap.Int("code_len", len(code)))
	res := s.engine.Execute(ctx, code)

	s.logger.Info("code execution completed",
		zap.Int64("execution_time_ms", res.ExecutionTimeMs),
		zap.Int("stdout_len", len(res.Stdout)),
		zap.Int("stderr_len", len(res.Stderr)),
		zap.String("error", res.Error))

	return jsonResult(res, res.Failed())
}

// handleRunTests handles the run_tests tool
func (s *MCPServer) handleRunTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	cases, err := parseTestCases(request.GetArguments()["tests"])
	if err != nil {
		return textResult(err.Error(), true), nil
	}

	s.logger.Info("test run requested", zap.Int("tests", len(cases)))
	return jsonResult(s.engine.RunTests(ctx, code, cases), false)
}

// handleRunSuite handles the run_suite tool
func (s *MCPServer) handleRunSuite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	suiteID, err := request.RequireString("suite")
	if err != nil {
		return nil, fmt.Errorf("suite parameter is required: %w", err)
	}

	report, err := s.engine.RunSuite(ctx, code, suiteID)
	if err != nil {
		s.logger.Warn("suite run failed", zap.String("suite", suiteID), zap.Error(err))
		return textResult(err.Error(), true), nil
	}
	return jsonResult(report, false)
}

// handleSandboxStatus handles the sandbox_status tool
func (s *MCPServer) handleSandboxStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(StatusResponse{
		Language: s.config.Sandbox.Language,
		Backend:  s.config.Sandbox.Backend,
		State:    s.engine.State(),
		Suites:   s.engine.Suites(),
	}, false)
}

// handleRestartSandbox handles the restart_sandbox tool
func (s *MCPServer) handleRestartSandbox(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.Restart(ctx); err != nil {
		s.logger.Warn("sandbox restart failed", zap.Error(err))
		return textResult(err.Error(), true), nil
	}
	return s.handleSandboxStatus(ctx, mcp.CallToolRequest{})
}

// parseTestCases accepts the tests argument either as a JSON array or as a
// string holding one.
func parseTestCases(raw any) ([]harness.TestCase, error) {
	if raw == nil {
		return nil, errors.New("tests parameter is required")
	}

	data, ok := raw.(string)
	if !ok {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tests parameter: %w", err)
		}
		data = string(encoded)
	}

	var cases []harness.TestCase
	if err := json.Unmarshal([]byte(data), &cases); err != nil {
		return nil, fmt.Errorf("invalid tests parameter: %w", err)
	}
	for i := range cases {
		if cases[i].ID == "" {
			cases[i].ID = fmt.Sprintf("test-%d", i+1)
		}
	}
	return cases, nil
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResult(string(data), isError), nil
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

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
