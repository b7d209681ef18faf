package usecase

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

// DefaultMaxIterations bounds the model/tool round-trips of one request.
const DefaultMaxIterations = 5

// FallbackReply is returned when no model turn carried any text.
const FallbackReply = "Done."

// LoopState is the orchestration state of a single conversation run.
type LoopState int

const (
	StateAwaitingModel LoopState = iota
	StateExecutingTools
	StateDone
)

func (s LoopState) String() string {
	switch s {
	case StateAwaitingModel:
		return "AWAITING_MODEL"
	case StateExecutingTools:
		return "EXECUTING_TOOLS"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// LoopResult is the outcome of a conversation run.
type LoopResult struct {
	Text       string
	Transcript []domain.Message
	// Iterations counts completed tool rounds.
	Iterations int
	// Exhausted is set when the run stopped because the budget ran out.
	Exhausted bool
}

// ConversationDeps holds injected dependencies for the conversation loop.
type ConversationDeps struct {
	LLM           domain.LLMProvider
	Tools         domain.ToolDispatcher
	Logger        *slog.Logger
	Model         string
	MaxIterations int
	// Timeout bounds each model call. Zero means no extra deadline.
	Timeout time.Duration
	Bus     domain.EventBus // optional
}

// Conversation drives the model ↔ tool protocol. It holds no per-request
// state and is safe for concurrent use; each Run owns its transcript and
// budget.
type Conversation struct {
	deps ConversationDeps
}

// NewConversation creates a conversation loop with the given dependencies.
func NewConversation(deps ConversationDeps) *Conversation {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = DefaultMaxIterations
	}
	return &Conversation{deps: deps}
}

// Run sends prompt to the model and keeps executing requested tools until
// the model answers with text only or the iteration budget is spent. A spent
// budget gets one final model call without tools.
// The only error it returns wraps domain.ErrModelUnavailable; tool
// failures are fed back to the model as data.
func (c *Conversation) Run(ctx context.Context, system, prompt string) (*LoopResult, error) {
	ctx, span := tracer.StartSpan(ctx, "conversation.run")
	defer span.End()

	res := &LoopResult{
		Transcript: []domain.Message{{
			Role:      domain.RoleUser,
			Content:   prompt,
			Timestamp: time.Now(),
		}},
	}

	var pending []domain.ToolCall
	for state := StateAwaitingModel; state != StateDone; {
		switch state {
		case StateAwaitingModel:
			span.AddEvent("conversation.model_call", trace.WithAttributes(tracer.IntAttr("iteration", res.Iterations)))
			msg, err := c.callModel(ctx, system, res.Transcript, c.deps.Tools.Schemas())
			if err != nil {
				tracer.RecordError(span, err)
				return nil, domain.NewDomainError("Conversation.Run", domain.ErrModelUnavailable, err.Error())
			}
			res.Transcript = append(res.Transcript, msg)

			c.deps.Logger.DebugContext(ctx, "model turn",
				"iteration", res.Iterations,
				"tool_calls", len(msg.ToolCalls),
			)

			if !msg.HasToolCalls() {
				state = StateDone
				continue
			}
			pending = msg.ToolCalls
			state = StateExecutingTools

		case StateExecutingTools:
			res.Transcript = append(res.Transcript, domain.Message{
				Role:      domain.RoleTool,
				Results:   c.dispatchAll(ctx, pending),
				Timestamp: time.Now(),
			})
			pending = nil
			res.Iterations++

			if res.Iterations >= c.deps.MaxIterations {
				res.Exhausted = true
				c.deps.Logger.WarnContext(ctx, "iteration budget exhausted", "iterations", res.Iterations)
				c.wrapUp(ctx, system, res)
				state = StateDone
				continue
			}
			state = StateAwaitingModel
		}
	}

	res.Text = finalText(res.Transcript)
	span.SetAttributes(
		tracer.IntAttr("conversation.iterations", res.Iterations),
		tracer.BoolAttr("conversation.exhausted", res.Exhausted),
	)
	tracer.SetOK(span)
	return res, nil
}

// wrapUp gives the model one last look at the final tool results with no
// tools on offer. Any calls it still requests are dropped so the transcript
// stays paired. A failure keeps the earlier text.
func (c *Conversation) wrapUp(ctx context.Context, system string, res *LoopResult) {
	msg, err := c.callModel(ctx, system, res.Transcript, nil)
	if err != nil {
		c.deps.Logger.WarnContext(ctx, "wrap-up model call failed", "error", err)
		return
	}
	if len(msg.ToolCalls) > 0 {
		c.deps.Logger.DebugContext(ctx, "dropping tool calls after budget", "tool_calls", len(msg.ToolCalls))
		msg.ToolCalls = nil
	}
	if msg.Content != "" {
		res.Transcript = append(res.Transcript, msg)
	}
}

func (c *Conversation) callModel(ctx context.Context, system string, transcript []domain.Message, tools []domain.ToolSchema) (domain.Message, error) {
	if c.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deps.Timeout)
		defer cancel()
	}

	req := domain.ChatRequest{
		Model:    c.deps.Model,
		System:   system,
		Messages: transcript,
		Tools:    tools,
	}

	c.publish(ctx, domain.EventLLMCallStarted, map[string]string{"provider": c.deps.LLM.Name()})
	resp, err := c.deps.LLM.Chat(ctx, req)
	if err != nil {
		c.publish(ctx, domain.EventAgentError, map[string]string{"error": err.Error()})
		c.deps.Logger.ErrorContext(ctx, "model call failed", "provider", c.deps.LLM.Name(), "error", err)
		return domain.Message{}, err
	}
	c.publish(ctx, domain.EventLLMCallCompleted, map[string]any{
		"provider": c.deps.LLM.Name(),
		"tokens":   resp.Usage.TotalTokens,
	})

	msg := resp.Message
	msg.Role = domain.RoleModel
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}

// dispatchAll runs every call concurrently. Results land in an indexed
// slice so they keep the order the model emitted the calls in.
func (c *Conversation) dispatchAll(ctx context.Context, calls []domain.ToolCall) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call domain.ToolCall) {
			defer wg.Done()
			results[idx] = c.deps.Tools.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (c *Conversation) publish(ctx context.Context, typ domain.EventType, payload any) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.Publish(ctx, domain.NewEvent(ctx, typ, payload))
}

// finalText returns the text of the most recent model turn that has any.
func finalText(transcript []domain.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if m := transcript[i]; m.Role == domain.RoleModel && m.Content != "" {
			return m.Content
		}
	}
	return FallbackReply
}
