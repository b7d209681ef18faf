package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

func newTestOllama(url string) *OllamaProvider {
	return NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: url, Model: "tinyllama:latest"}, newTestLogger())
}

func TestOllamaProviderChat(t *testing.T) {
	var got ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(`{"model":"tinyllama:latest","message":{"role":"assistant","content":"hi!"},
			"done":true,"prompt_eval_count":12,"eval_count":4}`))
	}))
	defer server.Close()

	resp, err := newTestOllama(server.URL).Chat(context.Background(), domain.ChatRequest{
		System:   "You are Kilo.",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hi!" || resp.Message.Role != domain.RoleModel {
		t.Errorf("message = %+v", resp.Message)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if got.Model != "tinyllama:latest" || got.Stream {
		t.Errorf("request model = %q stream = %v", got.Model, got.Stream)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOllamaProviderChatWithToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"",
			"tool_calls":[{"function":{"name":"get_upcoming_reminders","arguments":{"limit":3}}}]},"done":true}`))
	}))
	defer server.Close()

	resp, err := newTestOllama(server.URL).Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Name != "get_upcoming_reminders" || string(tc.Arguments) != `{"limit":3}` || tc.ID == "" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestOllamaRequestToolTurnIsOneMessagePerResult(t *testing.T) {
	req := toOllamaRequest(domain.ChatRequest{
		Model: "m",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleModel, ToolCalls: []domain.ToolCall{{Name: "a"}, {Name: "b", Arguments: json.RawMessage(`{"x":1}`)}}},
			{Role: domain.RoleTool, Results: []domain.ToolResult{
				{Name: "a", Payload: json.RawMessage(`{"ok":1}`)},
				{Name: "b", Payload: json.RawMessage(`["list"]`)},
			}},
		},
		Tools: []domain.ToolSchema{{Name: "a", Description: "does a"}},
	})

	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	asst := req.Messages[1]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 2 || string(asst.ToolCalls[0].Function.Arguments) != "{}" {
		t.Errorf("assistant = %+v", asst)
	}
	if req.Messages[2].Role != "tool" || req.Messages[2].ToolName != "a" || req.Messages[2].Content != `{"ok":1}` {
		t.Errorf("tool a = %+v", req.Messages[2])
	}
	if req.Messages[3].ToolName != "b" || req.Messages[3].Content != `{"content":["list"]}` {
		t.Errorf("tool b = %+v", req.Messages[3])
	}
	if len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "a" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestOllamaProviderChat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'tinyllama:latest' not found"}`))
	}))
	defer server.Close()

	_, err := newTestOllama(server.URL).Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("err = %v, want ErrProviderError", err)
	}
}

func TestOllamaProviderChat_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestOllama(server.URL).Chat(ctx, domain.ChatRequest{})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestOllamaProviderListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"tinyllama:latest","size":637700138}]}`))
	}))
	defer server.Close()

	models, err := newTestOllama(server.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].Name != "tinyllama:latest" {
		t.Errorf("models = %+v", models)
	}
}

func TestOllamaProviderIsHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ollama is running"))
	}))
	p := newTestOllama(server.URL)
	if !p.IsHealthy(context.Background()) {
		t.Error("expected healthy")
	}
	server.Close()
	if p.IsHealthy(context.Background()) {
		t.Error("expected unhealthy after close")
	}
}

func TestOllamaProviderDefaults(t *testing.T) {
	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: "http://host:11434/"}, newTestLogger())
	if p.baseURL != "http://host:11434" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
	if p.client.Timeout != ollamaDefaultConnTimeout+ollamaDefaultRespTimeout {
		t.Errorf("timeout = %v", p.client.Timeout)
	}
}
