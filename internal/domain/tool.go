package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one model-requested invocation inside a model turn.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one ToolCall. Payload is always a JSON object;
// failures carry {"error": "..."} and set IsError.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	IsError bool            `json:"is_error,omitempty"`
}

// ErrorMessage returns the "error" field of a failed result, or "".
func (r ToolResult) ErrorMessage() string {
	if !r.IsError {
		return ""
	}
	var p struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return string(r.Payload)
	}
	return p.Error
}

// ErrorPayload builds the {"error": msg} payload every failing tool returns.
func ErrorPayload(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}

// NewErrorResult builds a failed ToolResult paired with call.
func NewErrorResult(call ToolCall, msg string) ToolResult {
	return ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: ErrorPayload(msg),
		IsError: true,
	}
}

// Tool is the interface every tool must implement.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolDispatcher executes model-requested calls. Dispatch never fails:
// lookup misses, handler errors and panics all come back as error results.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
	Schemas() []ToolSchema
}
