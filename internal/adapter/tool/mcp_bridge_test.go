package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"kilo-brain/internal/domain"
)

// mockMCPClient implements mcpClient for testing.
type mockMCPClient struct {
	tools    []mcp.Tool
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed   bool
	listErr  error
}

func (m *mockMCPClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &mcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("called %s", req.Params.Name))},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func TestMCPBridgeDiscoverAndRegister(t *testing.T) {
	mock := &mockMCPClient{tools: []mcp.Tool{
		{Name: "turn_on", Description: "Turn a light on"},
		{Name: "turn-off", Description: "Turn a light off"},
	}}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "home", client: mock},
	}, nopLogger())
	if err != nil {
		t.Fatalf("newMCPBridgeWithClients: %v", err)
	}
	defer bridge.Close()

	reg := NewRegistry(time.Second, nil, nopLogger())
	if n := bridge.RegisterAll(reg); n != 2 {
		t.Fatalf("registered %d tools, want 2", n)
	}
	got := reg.Names()
	if got[0] != "mcp_home_turn_on" || got[1] != "mcp_home_turn_off" {
		t.Errorf("Names = %v", got)
	}
}

func TestMCPBridgePartialDiscoveryFailure(t *testing.T) {
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "ok", client: &mockMCPClient{tools: []mcp.Tool{{Name: "search"}}}},
		{name: "bad", client: &mockMCPClient{listErr: fmt.Errorf("connection refused")}},
	}, nopLogger())
	if err != nil {
		t.Fatalf("expected partial success, got error: %v", err)
	}
	if len(bridge.Tools()) != 1 {
		t.Errorf("tools = %d, want 1", len(bridge.Tools()))
	}
}

func TestMCPBridgeAllServersFailDiscovery(t *testing.T) {
	_, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "bad1", client: &mockMCPClient{listErr: fmt.Errorf("error 1")}},
		{name: "bad2", client: &mockMCPClient{listErr: fmt.Errorf("error 2")}},
	}, nopLogger())
	if err == nil || !strings.Contains(err.Error(), "all mcp servers failed") {
		t.Errorf("err = %v", err)
	}
}

func TestMCPBridgeClose(t *testing.T) {
	m1, m2 := &mockMCPClient{}, &mockMCPClient{}
	bridge, err := newMCPBridgeWithClients(context.Background(), []mcpServerConn{
		{name: "a", client: m1},
		{name: "b", client: m2},
	}, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	bridge.Close()
	if !m1.closed || !m2.closed {
		t.Error("all servers should be closed")
	}
}

func TestMCPToolAdapterSchema(t *testing.T) {
	adapter := newMCPToolAdapter("test", nil, mcp.Tool{
		Name:        "greet",
		Description: "Greet someone",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"name": map[string]any{"type": "string"}},
			Required:   []string{"name"},
		},
	}, nopLogger())

	schema := adapter.Schema()
	if schema.Name != "mcp_test_greet" || schema.Description != "Greet someone" {
		t.Errorf("schema = %+v", schema)
	}
	var params map[string]any
	if err := json.Unmarshal(schema.Parameters, &params); err != nil {
		t.Fatalf("unmarshal parameters: %v", err)
	}
	if _, ok := params["properties"].(map[string]any)["name"]; !ok {
		t.Error("params.properties missing 'name'")
	}

	empty := newMCPToolAdapter("test", nil, mcp.Tool{Name: "bare"}, nopLogger())
	if string(empty.Schema().Parameters) != `{"type": "object"}` {
		t.Errorf("empty schema = %s", empty.Schema().Parameters)
	}
}

func TestMCPToolAdapterExecuteText(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected context with deadline")
		}
		args := req.Params.Arguments.(map[string]any)
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Hello, %s!", args["name"]))}}, nil
	}}
	adapter := newMCPToolAdapter("test", mock, mcp.Tool{Name: "greet"}, nopLogger())

	res := run(t, adapter, `{"name":"World"}`)
	if res.IsError || string(res.Payload) != `{"content":"Hello, World!"}` {
		t.Errorf("got %+v", res)
	}
}

func TestMCPToolAdapterExecuteJSONObject(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(` {"state":"on"} `)}}, nil
	}}
	res := run(t, newMCPToolAdapter("home", mock, mcp.Tool{Name: "status"}, nopLogger()), `{}`)
	if string(res.Payload) != `{"state":"on"}` {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestMCPToolAdapterToolError(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("file not found")}, IsError: true}, nil
	}}
	res := run(t, newMCPToolAdapter("fs", mock, mcp.Tool{Name: "read"}, nopLogger()), `{}`)
	if !res.IsError || res.ErrorMessage() != "file not found" {
		t.Errorf("got %s", res.Payload)
	}
}

func TestMCPToolAdapterCallFailureBecomesDispatchError(t *testing.T) {
	mock := &mockMCPClient{callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, fmt.Errorf("server unavailable")
	}}
	reg := NewRegistry(time.Second, nil, nopLogger())
	reg.Register(newMCPToolAdapter("srv", mock, mcp.Tool{Name: "broken"}, nopLogger()))

	res := reg.Dispatch(context.Background(), mcpCall("mcp_srv_broken"))
	if !res.IsError || !strings.Contains(res.ErrorMessage(), "server unavailable") {
		t.Errorf("got %s", res.Payload)
	}
}

func TestMCPToolAdapterInvalidParams(t *testing.T) {
	res, err := newMCPToolAdapter("test", nil, mcp.Tool{Name: "x"}, nopLogger()).Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil || !res.IsError {
		t.Errorf("res=%+v err=%v", res, err)
	}
}

func mcpCall(name string) domain.ToolCall {
	return domain.ToolCall{ID: "m1", Name: name, Arguments: json.RawMessage(`{}`)}
}
