package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

var emptyObject = json.RawMessage(`{}`)

// Execute is the standard tool execution pipeline: parse params -> start trace -> run handler -> format result.
//
// The handler receives the parsed params and an active trace span. It should return:
//   - (any Go value, nil): marshaled into the result payload; values that are
//     not JSON objects are wrapped as {"result": value}
//   - (*domain.ToolResult, nil): returned as-is
//   - (nil, error): turned into an {"error": ...} payload with logging
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	rawParams json.RawMessage,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolResult, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	p, bad := ParseParams[P](rawParams)
	if bad != nil {
		tracer.RecordError(span, fmt.Errorf("%s", bad.ErrorMessage()))
		return bad, nil
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		tracer.RecordError(span, err)
		logger.WarnContext(ctx, spanName+" failed", "error", err)

		content := err.Error()
		if classifyToolError(err) {
			content += " (transient error, may succeed on retry)"
		}
		return errorResult(content), nil
	}

	return formatResult(span, result)
}

// formatResult converts the handler's return value into a ToolResult.
func formatResult(span trace.Span, result any) (*domain.ToolResult, error) {
	if v, ok := result.(*domain.ToolResult); ok {
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.ErrorMessage()))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	}

	res, err := JSONResult(result)
	if err != nil {
		tracer.RecordError(span, err)
		return errorResult(fmt.Sprintf("failed to format response: %v", err)), nil
	}
	tracer.SetOK(span)
	return res, nil
}

// ParseParams unmarshals rawParams into P. An empty body parses as the zero
// value. On failure it returns an error ToolResult suitable for returning directly.
func ParseParams[P any](rawParams json.RawMessage) (P, *domain.ToolResult) {
	var p P
	if len(rawParams) == 0 || string(rawParams) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(rawParams, &p); err != nil {
		return p, errorResult(fmt.Sprintf("invalid params: %v", err))
	}
	return p, nil
}

// ErrResult creates an error ToolResult. Use this for validation errors inside handlers
// that should be returned to the LLM without being logged as warnings.
func ErrResult(format string, args ...any) (*domain.ToolResult, error) {
	return errorResult(fmt.Sprintf(format, args...)), nil
}

// JSONResult marshals v into a success ToolResult. Non-object values are
// wrapped as {"result": v} so every payload is a JSON object.
func JSONResult(v any) (*domain.ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		data, err = json.Marshal(map[string]json.RawMessage{"result": data})
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	return &domain.ToolResult{Payload: data}, nil
}

func errorResult(msg string) *domain.ToolResult {
	return &domain.ToolResult{IsError: true, Payload: domain.ErrorPayload(msg)}
}
