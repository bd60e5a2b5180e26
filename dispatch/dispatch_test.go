package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRegistryRegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(RegisteredTool{
		Definition: Definition{Name: "echo", Description: "echo input"},
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})

	if r.Count() != 1 {
		t.Fatalf("expected 1 tool, got %d", r.Count())
	}
	out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected echo of input, got %v", out)
	}
}

func TestRegistryInvokeUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the tool: %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(RegisteredTool{
		Definition: Definition{Name: "temp"},
		Call:       func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	})
	r.Unregister("temp")
	if r.Get("temp") != nil {
		t.Error("tool should be gone after unregister")
	}
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	if r.Count() != 3 {
		t.Fatalf("expected 3 builtins, got %d", r.Count())
	}

	ctx := context.Background()

	out, err := r.Invoke(ctx, "calculate", map[string]any{"expression": "6 * 7"})
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if out != 42.0 {
		t.Errorf("expected 42, got %v", out)
	}

	if _, err := r.Invoke(ctx, "calculate", map[string]any{"expression": "1 / 0"}); err == nil {
		t.Error("division by zero should fail")
	}

	out, err = r.Invoke(ctx, "word_count", map[string]any{"text": "one two three"})
	if err != nil {
		t.Fatalf("word_count failed: %v", err)
	}
	if out != 3 {
		t.Errorf("expected 3 words, got %v", out)
	}
}

type fakeMCPClient struct {
	tools     []mcp.Tool
	callErr   error
	isError   bool
	replyText string
	lastName  string
	lastArgs  map[string]any
	closed    bool
}

func (f *fakeMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (f *fakeMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastName = req.Params.Name
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		f.lastArgs = args
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{
		IsError: f.isError,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: f.replyText}},
	}, nil
}

func (f *fakeMCPClient) Close() error {
	f.closed = true
	return nil
}

func newFakeDispatcher(t *testing.T, servers map[string]*fakeMCPClient) *MCPDispatcher {
	t.Helper()
	d := NewMCPDispatcher(nil)
	d.newClient = func(cfg ServerConfig) (mcpClient, error) {
		c, ok := servers[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no fake for %s", cfg.Name)
		}
		return c, nil
	}
	for name := range servers {
		if err := d.Connect(context.Background(), ServerConfig{Name: name, Command: "fake"}); err != nil {
			t.Fatalf("connect %s: %v", name, err)
		}
	}
	return d
}

func TestMCPDispatcherMergesCatalogs(t *testing.T) {
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{
		"search": {tools: []mcp.Tool{
			{Name: "web_search", Description: "search the web"},
			{Name: "fetch_page", Description: "fetch a url"},
		}},
		"docs": {tools: []mcp.Tool{
			{Name: "extract_pdf", Description: "extract pdf text"},
		}},
	})
	defer d.Close()

	catalog := d.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("expected 3 merged tools, got %d", len(catalog))
	}
	names := make(map[string]bool)
	for _, def := range catalog {
		names[def.Name] = true
	}
	for _, want := range []string{"web_search", "fetch_page", "extract_pdf"} {
		if !names[want] {
			t.Errorf("catalog missing %s", want)
		}
	}
}

func TestMCPDispatcherRoutesByTool(t *testing.T) {
	search := &fakeMCPClient{
		tools:     []mcp.Tool{{Name: "web_search"}},
		replyText: "ten results",
	}
	docs := &fakeMCPClient{
		tools:     []mcp.Tool{{Name: "extract_pdf"}},
		replyText: "page text",
	}
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{"search": search, "docs": docs})
	defer d.Close()

	out, err := d.Invoke(context.Background(), "extract_pdf", map[string]any{"path": "a.pdf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "page text" {
		t.Errorf("expected docs server reply, got %v", out)
	}
	if docs.lastName != "extract_pdf" || search.lastName != "" {
		t.Error("call routed to the wrong server")
	}
	if docs.lastArgs["path"] != "a.pdf" {
		t.Errorf("arguments not forwarded: %v", docs.lastArgs)
	}
}

func TestMCPDispatcherUnknownTool(t *testing.T) {
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{
		"search": {tools: []mcp.Tool{{Name: "web_search"}}},
	})
	defer d.Close()

	if _, err := d.Invoke(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestMCPDispatcherToolError(t *testing.T) {
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{
		"search": {
			tools:     []mcp.Tool{{Name: "web_search"}},
			isError:   true,
			replyText: "rate limited",
		},
	})
	defer d.Close()

	_, err := d.Invoke(context.Background(), "web_search", nil)
	if err == nil {
		t.Fatal("expected error when server reports IsError")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry the server's text: %v", err)
	}
}

func TestMCPDispatcherTransportError(t *testing.T) {
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{
		"search": {
			tools:   []mcp.Tool{{Name: "web_search"}},
			callErr: errors.New("broken pipe"),
		},
	})
	defer d.Close()

	if _, err := d.Invoke(context.Background(), "web_search", nil); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestMCPDispatcherDuplicateToolSkipped(t *testing.T) {
	first := &fakeMCPClient{tools: []mcp.Tool{{Name: "web_search"}}, replyText: "from first"}
	d := NewMCPDispatcher(nil)
	clients := []*fakeMCPClient{
		first,
		{tools: []mcp.Tool{{Name: "web_search"}}, replyText: "from second"},
	}
	i := 0
	d.newClient = func(cfg ServerConfig) (mcpClient, error) {
		c := clients[i]
		i++
		return c, nil
	}
	ctx := context.Background()
	if err := d.Connect(ctx, ServerConfig{Name: "a", Command: "fake"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(ctx, ServerConfig{Name: "b", Command: "fake"}); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if len(d.Catalog()) != 1 {
		t.Fatalf("duplicate name should be skipped, catalog has %d entries", len(d.Catalog()))
	}
	out, err := d.Invoke(ctx, "web_search", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "from first" {
		t.Errorf("first registration should own the name, got %v", out)
	}
}

func TestMCPDispatcherClose(t *testing.T) {
	search := &fakeMCPClient{tools: []mcp.Tool{{Name: "web_search"}}}
	d := newFakeDispatcher(t, map[string]*fakeMCPClient{"search": search})

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !search.closed {
		t.Error("client was not closed")
	}
	if len(d.Catalog()) != 0 {
		t.Error("catalog should be empty after close")
	}
}
