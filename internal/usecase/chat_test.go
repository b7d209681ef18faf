package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"kilo-brain/internal/domain"
)

type fakeStore struct {
	mu           sync.Mutex
	memories     []domain.Memory
	exchanges    [][2]string
	observations []domain.Observation // newest first
	err          error
}

func (s *fakeStore) Remember(_ context.Context, source, text string) (domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Memory{}, s.err
	}
	m := domain.Memory{ID: int64(len(s.memories) + 1), Source: source, Text: text, CreatedAt: time.Now()}
	s.memories = append(s.memories, m)
	return m, nil
}

func (s *fakeStore) Recall(_ context.Context, query string, limit int) ([]domain.Memory, error) {
	var out []domain.Memory
	for _, m := range s.memories {
		if strings.Contains(strings.ToLower(m.Text), strings.ToLower(query)) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, s.err
}

func (s *fakeStore) Forget(_ context.Context, id int64) error {
	for i, m := range s.memories {
		if m.ID == id {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			return nil
		}
	}
	return domain.NewDomainError("Store.Forget", domain.ErrMemoryNotFound, "")
}

func (s *fakeStore) RecordExchange(_ context.Context, user, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, [2]string{user, reply})
	return nil
}

func (s *fakeStore) AddObservation(_ context.Context, o domain.Observation) (domain.Observation, error) {
	s.observations = append([]domain.Observation{o}, s.observations...)
	return o, nil
}

func (s *fakeStore) RecentObservations(_ context.Context, limit int) ([]domain.Observation, error) {
	return s.observations[:min(limit, len(s.observations))], nil
}

func (s *fakeStore) ClearObservations(context.Context) (int, error) {
	n := len(s.observations)
	s.observations = nil
	return n, nil
}

type fakeGatherer struct {
	pc    domain.ProactiveContext
	calls int
}

func (g *fakeGatherer) Gather(context.Context) domain.ProactiveContext {
	g.calls++
	return g.pc
}

func newTestChat(llm domain.LLMProvider, store domain.MemoryStore, g ContextGatherer) *ChatService {
	deps := ChatDeps{
		Conversation:       newTestConversation(llm, &stubDispatcher{}, 5),
		Logger:             discardLogger(),
		SystemPrompt:       "You are Kilo.",
		RecentObservations: 3,
	}
	if store != nil {
		deps.Memory = store
	}
	if g != nil {
		deps.Gatherer = g
	}
	return NewChatService(deps)
}

func TestChat_AugmentsWithProactiveContext(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.Message{{Content: "Morning! Did you take your Aspirin?"}}}
	g := &fakeGatherer{pc: domain.ProactiveContext{
		Timestamp: time.Date(2026, 3, 14, 8, 15, 0, 0, time.UTC),
		TimeOfDay: domain.TimeMorning,
		Medications: domain.MedicationStatus{Pending: []domain.PendingDose{
			{Name: "Aspirin", Dosage: "100mg", Time: "08:00"},
		}},
	}}
	store := &fakeStore{}
	svc := newTestChat(llm, store, g)

	reply, err := svc.Chat(context.Background(), "how's my day?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Response != "Morning! Did you take your Aspirin?" {
		t.Errorf("response = %q", reply.Response)
	}
	if reply.Proactive == nil || len(reply.Proactive.Medications.Pending) != 1 {
		t.Errorf("proactive = %+v", reply.Proactive)
	}

	prompt := llm.requests[0].Messages[0].Content
	if !strings.HasPrefix(prompt, "CONTEXTUAL AWARENESS") {
		t.Errorf("prompt does not start with context block: %q", prompt)
	}
	if !strings.Contains(prompt, "User should take Aspirin (100mg)") {
		t.Errorf("prompt missing medication line: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "\n\n---\nUSER MESSAGE: how's my day?") {
		t.Errorf("prompt missing user message: %q", prompt)
	}

	if len(store.exchanges) != 1 || store.exchanges[0][0] != "how's my day?" {
		t.Errorf("exchanges = %v", store.exchanges)
	}
}

func TestChat_SkipKeywordBypassesContext(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.Message{{Content: "ok"}}}
	g := &fakeGatherer{}
	svc := newTestChat(llm, nil, g)

	if _, err := svc.Chat(context.Background(), "just a test"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if g.calls != 0 {
		t.Errorf("gatherer called %d times", g.calls)
	}
	if got := llm.requests[0].Messages[0].Content; got != "just a test" {
		t.Errorf("prompt = %q", got)
	}
}

func TestChat_ModelFailureGlitches(t *testing.T) {
	store := &fakeStore{}
	svc := newTestChat(&scriptedLLM{err: errors.New("connection reset")}, store, nil)

	reply, err := svc.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Response != GlitchReply {
		t.Errorf("response = %q, want %q", reply.Response, GlitchReply)
	}
	if len(store.exchanges) != 0 {
		t.Errorf("failed exchange was persisted: %v", store.exchanges)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	svc := newTestChat(&scriptedLLM{}, nil, nil)
	_, err := svc.Chat(context.Background(), "   ")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestChat_MemoryCommands(t *testing.T) {
	llm := &scriptedLLM{}
	store := &fakeStore{}
	svc := newTestChat(llm, store, nil)
	ctx := context.Background()

	send := func(msg string) string {
		t.Helper()
		reply, err := svc.Chat(ctx, msg)
		if err != nil {
			t.Fatalf("Chat(%q): %v", msg, err)
		}
		return reply.Response
	}

	if got := send("/remember the wifi password is hunter2"); got != "Memory stored (ID: 1). I'll remember: 'the wifi password is hunter2'" {
		t.Errorf("remember = %q", got)
	}
	send("/remember dentist is on Friday")

	if got := send("/recall wifi"); got != "Found 1 relevant memories:\n\n1. [user] the wifi password is hunter2" {
		t.Errorf("recall = %q", got)
	}
	if got := send("/recall pizza"); got != "No memories found for 'pizza'" {
		t.Errorf("recall miss = %q", got)
	}
	if got := send("/forget 1"); got != "Memory 1 deleted" {
		t.Errorf("forget = %q", got)
	}
	if got := send("/forget 1"); got != "Memory 1 not found" {
		t.Errorf("forget again = %q", got)
	}
	if got := send("/forget abc"); got != "Usage: /forget <memory_id>" {
		t.Errorf("forget usage = %q", got)
	}

	if len(llm.requests) != 0 {
		t.Errorf("commands reached the model %d times", len(llm.requests))
	}
	if len(store.exchanges) != 0 {
		t.Errorf("commands were persisted as exchanges: %v", store.exchanges)
	}
}

func TestChat_RememberFailureHidesError(t *testing.T) {
	store := &fakeStore{err: errors.New("database is locked")}
	svc := newTestChat(&scriptedLLM{}, store, nil)

	reply, err := svc.Chat(context.Background(), "/remember something")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if strings.Contains(reply.Response, "locked") {
		t.Errorf("raw error leaked: %q", reply.Response)
	}
}

func TestChat_RecallTruncatesLongMemories(t *testing.T) {
	store := &fakeStore{}
	store.memories = []domain.Memory{{ID: 3, Source: "conversation", Text: "note " + strings.Repeat("x", 200)}}
	svc := newTestChat(&scriptedLLM{}, store, nil)

	reply, err := svc.Chat(context.Background(), "/recall note")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	line := strings.Split(reply.Response, "\n")[2]
	want := "1. [conversation] " + "note " + strings.Repeat("x", 95) + "..."
	if line != want {
		t.Errorf("line = %q, want %q", line, want)
	}
}

func TestChat_ObservationsInSystemInstruction(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.Message{{Content: "ok"}}}
	store := &fakeStore{}
	ctx := context.Background()
	for _, c := range []string{"opened terminal", "browsing docs", "editing main.go", strings.Repeat("y", 200)} {
		if _, err := store.AddObservation(ctx, domain.Observation{Type: "desktop", Content: c}); err != nil {
			t.Fatal(err)
		}
	}
	svc := newTestChat(llm, store, nil)

	if _, err := svc.Chat(ctx, "what am I doing?"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	want := "You are Kilo.\n\nRecent desktop activity:\n" +
		"- browsing docs\n" +
		"- editing main.go\n" +
		"- " + strings.Repeat("y", 150) + "...\n"
	if got := llm.requests[0].System; got != want {
		t.Errorf("system = %q, want %q", got, want)
	}
}

func TestQuickChat_SkipsContextAndPersistence(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.Message{{Content: "hi there"}}}
	store := &fakeStore{}
	g := &fakeGatherer{}
	svc := newTestChat(llm, store, g)

	reply, err := svc.QuickChat(context.Background(), "/remember hello")
	if err != nil {
		t.Fatalf("QuickChat: %v", err)
	}
	if reply.Response != "hi there" || reply.Proactive != nil {
		t.Errorf("reply = %+v", reply)
	}
	if g.calls != 0 || len(store.exchanges) != 0 || len(store.memories) != 0 {
		t.Errorf("quick chat touched context or memory: gather=%d exchanges=%d memories=%d",
			g.calls, len(store.exchanges), len(store.memories))
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Errorf("got %q", got)
	}
	if got := truncateRunes("héllo", 2); got != "hé..." {
		t.Errorf("got %q", got)
	}
}
