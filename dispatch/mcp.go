package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes one external MCP tool server launched over stdio.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// mcpClient is the subset of the MCP client used by the dispatcher.
type mcpClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPDispatcher aggregates tools from multiple MCP servers behind a single
// catalog. Tool names must be unique across servers; on collision the first
// server to register a name wins and later duplicates are skipped.
type MCPDispatcher struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]mcpClient // server name -> client
	byTool  map[string]string    // tool name -> server name
	catalog []Definition

	// newClient is swapped out in tests.
	newClient func(cfg ServerConfig) (mcpClient, error)
}

// NewMCPDispatcher creates a dispatcher with no connected servers.
func NewMCPDispatcher(logger *slog.Logger) *MCPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPDispatcher{
		logger:  logger,
		clients: make(map[string]mcpClient),
		byTool:  make(map[string]string),
		newClient: func(cfg ServerConfig) (mcpClient, error) {
			return client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		},
	}
}

// Connect launches a server process, initializes the MCP session, and merges
// its tools into the catalog.
func (d *MCPDispatcher) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("server config requires a name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[cfg.Name]; ok {
		return fmt.Errorf("server %q is already connected", cfg.Name)
	}

	c, err := d.newClient(cfg)
	if err != nil {
		return fmt.Errorf("start server %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "stepline", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize server %q: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools from server %q: %w", cfg.Name, err)
	}

	d.clients[cfg.Name] = c
	for _, tool := range listed.Tools {
		if owner, ok := d.byTool[tool.Name]; ok {
			d.logger.Warn("duplicate tool name skipped",
				"tool", tool.Name, "server", cfg.Name, "owner", owner)
			continue
		}
		d.byTool[tool.Name] = cfg.Name
		d.catalog = append(d.catalog, Definition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toolParameters(tool),
		})
	}
	d.logger.Info("connected tool server",
		"server", cfg.Name, "tools", len(listed.Tools))
	return nil
}

// Catalog returns the merged tool definitions across all servers.
func (d *MCPDispatcher) Catalog() []Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]Definition, len(d.catalog))
	copy(defs, d.catalog)
	return defs
}

// Invoke routes a call to the server that owns the tool and returns the
// joined text content of the result.
func (d *MCPDispatcher) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	d.mu.RLock()
	server, ok := d.byTool[name]
	c := d.clients[server]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %q is not offered by any connected server", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s on server %s: %w", name, server, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("tool %s reported an error: %s", name, text)
	}
	return text, nil
}

// Close shuts down all connected servers. The first error is returned after
// attempting every close.
func (d *MCPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for name, c := range d.clients {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("close server %q: %w", name, err)
		}
		delete(d.clients, name)
	}
	d.byTool = make(map[string]string)
	d.catalog = nil
	return first
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func toolParameters(tool mcp.Tool) map[string]any {
	params := map[string]any{"type": tool.InputSchema.Type}
	if len(tool.InputSchema.Properties) > 0 {
		params["properties"] = tool.InputSchema.Properties
	}
	if len(tool.InputSchema.Required) > 0 {
		params["required"] = tool.InputSchema.Required
	}
	return params
}
