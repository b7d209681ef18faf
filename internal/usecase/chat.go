package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
	"kilo-brain/internal/usecase/proactive"
)

// GlitchReply is what the user sees when the model cannot be reached.
const GlitchReply = "Brain glitched. Try again."

const (
	defaultRecallLimit   = 5
	recallPreviewLen     = 100
	observationLineLimit = 150
)

// ContextGatherer produces a fresh proactive snapshot.
type ContextGatherer interface {
	Gather(ctx context.Context) domain.ProactiveContext
}

// ChatDeps holds injected dependencies for the chat service.
type ChatDeps struct {
	Conversation *Conversation
	Logger       *slog.Logger
	SystemPrompt string

	Gatherer     ContextGatherer    // optional, nil = no proactive context
	SkipKeywords []string           // nil = proactive.DefaultSkipKeywords
	Memory       domain.MemoryStore // optional, nil = no commands or persistence
	RecallLimit  int
	// RecentObservations is how many observations are appended to the system
	// instruction. 0 disables the section.
	RecentObservations int
	Bus                domain.EventBus // optional
}

// ChatReply is the answer to one chat message.
type ChatReply struct {
	Response   string
	Proactive  *domain.ProactiveContext
	Iterations int
	Exhausted  bool
}

// ChatService is the entry point for user messages: it intercepts memory
// commands, augments the message with proactive context, runs the
// conversation loop and persists the exchange.
type ChatService struct {
	deps ChatDeps
}

// NewChatService creates a chat service.
func NewChatService(deps ChatDeps) *ChatService {
	if deps.RecallLimit <= 0 {
		deps.RecallLimit = defaultRecallLimit
	}
	return &ChatService{deps: deps}
}

// Chat runs the full pipeline for message.
func (s *ChatService) Chat(ctx context.Context, message string) (*ChatReply, error) {
	ctx, span := tracer.StartSpan(ctx, "chat.handle")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.NewDomainError("ChatService.Chat", domain.ErrInvalidInput, "empty message")
	}
	s.publish(ctx, domain.EventMessageReceived, map[string]int{"length": len(message)})

	if reply, ok := s.handleCommand(ctx, message); ok {
		return &ChatReply{Response: reply}, nil
	}

	prompt := message
	var pc *domain.ProactiveContext
	if s.deps.Gatherer != nil && proactive.ShouldBeProactive(message, s.deps.SkipKeywords) {
		gathered := s.deps.Gatherer.Gather(ctx)
		pc = &gathered
		prompt = proactive.Augment(proactive.BuildPrompt(gathered), message)
		s.deps.Logger.InfoContext(ctx, "proactive context gathered",
			"pending_meds", len(gathered.Medications.Pending),
			"habits_not_logged", len(gathered.Habits.NotLogged),
			"findings", gathered.HasFindings(),
		)
	}

	reply := s.run(ctx, prompt)
	reply.Proactive = pc

	if s.deps.Memory != nil && reply.Response != GlitchReply {
		if err := s.deps.Memory.RecordExchange(ctx, message, reply.Response); err != nil {
			s.deps.Logger.WarnContext(ctx, "failed to store conversation", "error", err)
		}
	}
	s.publish(ctx, domain.EventMessageSent, map[string]int{"iterations": reply.Iterations})
	return reply, nil
}

// QuickChat runs the conversation loop without commands, proactive context
// or persistence.
func (s *ChatService) QuickChat(ctx context.Context, message string) (*ChatReply, error) {
	ctx, span := tracer.StartSpan(ctx, "chat.quick")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.NewDomainError("ChatService.QuickChat", domain.ErrInvalidInput, "empty message")
	}
	return s.run(ctx, message), nil
}

func (s *ChatService) run(ctx context.Context, prompt string) *ChatReply {
	res, err := s.deps.Conversation.Run(ctx, s.systemInstruction(ctx), prompt)
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "conversation failed", "error", err)
		return &ChatReply{Response: GlitchReply}
	}
	return &ChatReply{
		Response:   res.Text,
		Iterations: res.Iterations,
		Exhausted:  res.Exhausted,
	}
}

// systemInstruction appends the most recent observations, oldest first, to
// the configured system prompt.
func (s *ChatService) systemInstruction(ctx context.Context) string {
	if s.deps.Memory == nil || s.deps.RecentObservations <= 0 {
		return s.deps.SystemPrompt
	}
	obs, err := s.deps.Memory.RecentObservations(ctx, s.deps.RecentObservations)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "failed to load observations", "error", err)
		return s.deps.SystemPrompt
	}
	if len(obs) == 0 {
		return s.deps.SystemPrompt
	}

	var b strings.Builder
	b.WriteString(s.deps.SystemPrompt)
	b.WriteString("\n\nRecent desktop activity:\n")
	for _, o := range slices.Backward(obs) {
		fmt.Fprintf(&b, "- %s\n", truncateRunes(o.Content, observationLineLimit))
	}
	return b.String()
}

// handleCommand answers /remember, /recall and /forget. ok is false for
// anything else, including commands when no memory store is configured.
func (s *ChatService) handleCommand(ctx context.Context, message string) (reply string, ok bool) {
	if s.deps.Memory == nil {
		return "", false
	}
	switch {
	case strings.HasPrefix(message, "/remember "):
		return s.remember(ctx, strings.TrimSpace(strings.TrimPrefix(message, "/remember "))), true
	case strings.HasPrefix(message, "/recall "):
		return s.recall(ctx, strings.TrimSpace(strings.TrimPrefix(message, "/recall "))), true
	case strings.HasPrefix(message, "/forget "):
		return s.forget(ctx, strings.TrimSpace(strings.TrimPrefix(message, "/forget "))), true
	}
	return "", false
}

func (s *ChatService) remember(ctx context.Context, text string) string {
	mem, err := s.deps.Memory.Remember(ctx, domain.MemorySourceUser, text)
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "remember failed", "error", err)
		return "Couldn't store that memory right now."
	}
	s.publish(ctx, domain.EventMemoryStored, map[string]int64{"id": mem.ID})
	return fmt.Sprintf("Memory stored (ID: %d). I'll remember: '%s'", mem.ID, text)
}

func (s *ChatService) recall(ctx context.Context, query string) string {
	mems, err := s.deps.Memory.Recall(ctx, query, s.deps.RecallLimit)
	if err != nil {
		s.deps.Logger.ErrorContext(ctx, "recall failed", "error", err)
		return "Couldn't search memories right now."
	}
	if len(mems) == 0 {
		return fmt.Sprintf("No memories found for '%s'", query)
	}

	lines := make([]string, 0, len(mems)+1)
	lines = append(lines, fmt.Sprintf("Found %d relevant memories:\n", len(mems)))
	for i, m := range mems {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, m.Source, truncateRunes(m.Text, recallPreviewLen)))
	}
	return strings.Join(lines, "\n")
}

func (s *ChatService) forget(ctx context.Context, arg string) string {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Usage: /forget <memory_id>"
	}
	if err := s.deps.Memory.Forget(ctx, id); err != nil {
		if errors.Is(err, domain.ErrMemoryNotFound) {
			return fmt.Sprintf("Memory %d not found", id)
		}
		s.deps.Logger.ErrorContext(ctx, "forget failed", "id", id, "error", err)
		return "Couldn't delete that memory right now."
	}
	s.publish(ctx, domain.EventMemoryDeleted, map[string]int64{"id": id})
	return fmt.Sprintf("Memory %d deleted", id)
}

func (s *ChatService) publish(ctx context.Context, typ domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.NewEvent(ctx, typ, payload))
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
