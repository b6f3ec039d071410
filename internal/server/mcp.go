package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"plexflow/internal/engine"
	"plexflow/internal/loader"
	"plexflow/internal/types"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// MCPServer exposes every flow as an MCP tool over stdio.
type MCPServer struct {
	engine    *engine.Engine
	flows     map[string]*types.FlowDef
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

// NewMCPServer creates a new MCP server with one tool per flow.
func NewMCPServer(eng *engine.Engine, flows map[string]*types.FlowDef, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MCPServer{engine: eng, flows: flows, logger: logger}
	s.mcpServer = server.NewMCPServer(
		"plexflow",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Each tool runs a plexflow flow. Tool arguments become the flow input; "+
			"the result is the flow run as JSON."),
	)

	for _, name := range loader.Names(flows) {
		flow := flows[name]
		s.mcpServer.AddTool(s.flowTool(flow), s.handleCallFlow(flow))
	}
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *MCPServer) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio runs the MCP server on stdin/stdout.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("mcp server starting", zap.Int("tools", len(s.flows)))
	return server.ServeStdio(s.mcpServer)
}

func (s *MCPServer) flowTool(flow *types.FlowDef) mcp.Tool {
	schema, err := json.Marshal(buildInputSchema(flow))
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(flow.Name, flow.Description, schema)
}

func buildInputSchema(flow *types.FlowDef) map[string]any {
	schema := map[string]any{
		"type": "object",
	}

	if flow.Input == nil || len(flow.Input.Properties) == 0 {
		return schema
	}

	properties := make(map[string]any)
	var required []string

	for name, field := range flow.Input.Properties {
		prop := map[string]any{}
		switch field.Type {
		case "", "any", "json":
		default:
			prop["type"] = field.Type
		}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if field.Default != nil {
			prop["default"] = field.Default
		}
		properties[name] = prop
		if field.Required {
			required = append(required, name)
		}
	}

	schema["properties"] = properties
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func (s *MCPServer) handleCallFlow(flow *types.FlowDef) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input := req.GetArguments()
		if input == nil {
			input = make(map[string]any)
		}

		result, err := s.engine.Run(ctx, flow, input)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("error: %v", err)), nil
		}

		resultJSON, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("error marshaling result: %v", err)), nil
		}

		if result.Status == "failed" {
			return mcp.NewToolResultError(string(resultJSON)), nil
		}
		return mcp.NewToolResultText(string(resultJSON)), nil
	}
}
