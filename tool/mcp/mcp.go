// Package mcp exposes tools discovered on Model Context Protocol servers as
// tool.Tool values.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/tool"
)

const protocolVersion = "2025-06-18"

// Caller is the subset of an MCP client used by the adapter.
type Caller interface {
	ListTools(ctx context.Context, req mcptypes.ListToolsRequest) (*mcptypes.ListToolsResult, error)
	CallTool(ctx context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
}

// ServerConfig describes a stdio MCP server.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Server is a connected MCP server.
type Server struct {
	name   string
	caller Caller
	closer func() error
	logger logging.Logger
}

// Options configures Connect.
type Options struct {
	ClientName    string
	ClientVersion string
	Logger        logging.Logger
}

// Connect starts a stdio MCP server process and performs the initialize handshake.
func Connect(ctx context.Context, cfg ServerConfig, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		ClientName:    "agentrelay",
		ClientVersion: "1.0.0",
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", cfg.Name, err)
	}

	_, err = c.Initialize(ctx, mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    opts.ClientName,
				Version: opts.ClientVersion,
			},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}

	opts.Logger.Info("mcp.server.connected", "server", cfg.Name, "command", cfg.Command)

	return &Server{name: cfg.Name, caller: c, closer: c.Close, logger: opts.Logger}, nil
}

// NewServer wraps an already initialized caller.
func NewServer(name string, caller Caller, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Server{name: name, caller: caller, logger: logger}
}

// Name returns the configured server name.
func (s *Server) Name() string { return s.name }

// Tools lists the server's tools.
func (s *Server) Tools(ctx context.Context) ([]tool.Tool, error) {
	res, err := s.caller.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of %s: %w", s.name, err)
	}

	tools := make([]tool.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, &remoteTool{server: s, def: t, schema: inputSchema(t)})
	}

	s.logger.Debug("mcp.server.tools", "server", s.name, "count", len(tools))
	return tools, nil
}

// Close terminates the server process.
func (s *Server) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func inputSchema(t mcptypes.Tool) map[string]any {
	var raw []byte
	if len(t.RawInputSchema) > 0 {
		raw = t.RawInputSchema
	} else if b, err := json.Marshal(t.InputSchema); err == nil {
		raw = b
	}

	schema := map[string]any{}
	if len(raw) == 0 || json.Unmarshal(raw, &schema) != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

type remoteTool struct {
	server *Server
	def    mcptypes.Tool
	schema map[string]any
}

func (t *remoteTool) Name() string { return t.def.Name }

func (t *remoteTool) Description() string { return t.def.Description }

func (t *remoteTool) Parameters() map[string]any { return t.schema }

func (t *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	res, err := t.server.caller.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      t.def.Name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, tool.NewToolError(t.def.Name, err.Error(), tool.CodeExecution)
	}

	text := resultText(res)
	if res.IsError {
		return nil, tool.NewToolError(t.def.Name, text, tool.CodeExecution)
	}
	return text, nil
}

func resultText(res *mcptypes.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcptypes.TextContent:
			parts = append(parts, v.Text)
		case *mcptypes.TextContent:
			parts = append(parts, v.Text)
		case mcptypes.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		}
	}
	return strings.Join(parts, "\n")
}
