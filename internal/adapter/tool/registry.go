package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

// DefaultCallTimeout bounds a single dispatch when the registry has none configured.
const DefaultCallTimeout = 10 * time.Second

// Registry holds named tools and dispatches model-requested calls to them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	order   []string
	timeout time.Duration
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewRegistry creates an empty tool registry. bus may be nil.
func NewRegistry(callTimeout time.Duration, bus domain.EventBus, logger *slog.Logger) *Registry {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Registry{
		tools:   make(map[string]domain.Tool),
		timeout: callTimeout,
		bus:     bus,
		logger:  logger,
	}
}

// Register adds a tool wrapped with schema validation. A tool registered
// under an existing name replaces the previous one. If the schema fails to
// compile the tool is registered without validation and a warning is logged.
func (r *Registry) Register(t domain.Tool) {
	name := t.Name()
	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
		wrapped = t
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		r.logger.Debug("tool replaced", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = wrapped
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns all tool schemas for LLM function-calling, in registration order.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// Dispatch runs one call and always returns a result paired with it. Unknown
// tools, handler errors, timeouts and panics all come back as error payloads.
func (r *Registry) Dispatch(ctx context.Context, call domain.ToolCall) (res domain.ToolResult) {
	t, err := r.Get(call.Name)
	if err != nil {
		r.logger.Warn("unknown tool requested", "tool", call.Name)
		return domain.NewErrorResult(call, "Unknown tool: "+call.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "tool."+call.Name,
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	PublishToolEvent(ctx, r.bus, domain.EventToolCallStarted, map[string]any{
		"tool":    call.Name,
		"call_id": call.ID,
	})
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", call.Name, "panic", p)
			res = domain.NewErrorResult(call, fmt.Sprint(p))
		}
		if res.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", res.ErrorMessage()))
		} else {
			tracer.SetOK(span)
		}
		PublishToolEvent(ctx, r.bus, domain.EventToolCallCompleted, map[string]any{
			"tool":        call.Name,
			"call_id":     call.ID,
			"is_error":    res.IsError,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}()

	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return domain.NewErrorResult(call, err.Error())
	}
	if out == nil {
		return domain.NewErrorResult(call, "tool returned no result")
	}
	res = *out
	res.CallID = call.ID
	res.Name = call.Name
	if len(res.Payload) == 0 {
		res.Payload = emptyObject
	}
	return res
}

var _ domain.ToolDispatcher = (*Registry)(nil)
