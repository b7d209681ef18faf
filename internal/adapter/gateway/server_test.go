package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/usecase"
	"kilo-brain/internal/usecase/healthmon"
)

// --- test doubles ---

type testBus struct {
	mu    sync.Mutex
	typed map[domain.EventType][]domain.EventHandler
	all   []domain.EventHandler
}

func newTestBus() *testBus {
	return &testBus{typed: make(map[domain.EventType][]domain.EventHandler)}
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	hs := append([]domain.EventHandler{}, b.typed[event.Type]...)
	hs = append(hs, b.all...)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) Subscribe(typ domain.EventType, h domain.EventHandler) func() {
	b.mu.Lock()
	b.typed[typ] = append(b.typed[typ], h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.typed, typ)
		b.mu.Unlock()
	}
}

func (b *testBus) SubscribeAll(h domain.EventHandler) func() {
	b.mu.Lock()
	b.all = append(b.all, h)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.all = nil
		b.mu.Unlock()
	}
}

func (b *testBus) Close() {}

type fakeChat struct {
	mu       sync.Mutex
	messages []string
	quick    []string
	err      error
}

func (f *fakeChat) Chat(_ context.Context, msg string) (*usecase.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(msg) == "" {
		return nil, domain.NewDomainError("ChatService.Chat", domain.ErrInvalidInput, "empty message")
	}
	f.messages = append(f.messages, msg)
	return &usecase.ChatReply{Response: "full: " + msg}, nil
}

func (f *fakeChat) QuickChat(_ context.Context, msg string) (*usecase.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quick = append(f.quick, msg)
	return &usecase.ChatReply{Response: "quick: " + msg}, nil
}

type fakeObservations struct {
	mu   sync.Mutex
	obs  []domain.Observation
	next int64
}

func (f *fakeObservations) AddObservation(_ context.Context, o domain.Observation) (domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	o.ID = f.next
	if o.Priority == "" {
		o.Priority = "normal"
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	f.obs = append(f.obs, o)
	return o, nil
}

func (f *fakeObservations) RecentObservations(_ context.Context, limit int) ([]domain.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Observation
	for i := len(f.obs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.obs[i])
	}
	return out, nil
}

func (f *fakeObservations) ClearObservations(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.obs)
	f.obs = nil
	return n, nil
}

type fakeHealth map[string]healthmon.Status

func (f fakeHealth) Status() map[string]healthmon.Status { return f }

type fakeTools int

func (f fakeTools) Schemas() []domain.ToolSchema { return make([]domain.ToolSchema, int(f)) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	srv  *Server
	http *httptest.Server
	bus  *testBus
	chat *fakeChat
	obs  *fakeObservations
}

func newFixture(t *testing.T, cfg config.GatewayConfig) *fixture {
	t.Helper()
	f := &fixture{bus: newTestBus(), chat: &fakeChat{}, obs: &fakeObservations{}}
	f.srv = NewServer(cfg, Deps{
		Chat:         f.chat,
		Observations: f.obs,
		Health:       fakeHealth{"meds": healthmon.StatusHealthy, "habits": healthmon.StatusError},
		Tools:        fakeTools(3),
		Store:        fakePinger{},
		Bus:          f.bus,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.http = httptest.NewServer(f.srv.Handler(ctx))
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// --- tests ---

func TestChatEchoesContext(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	resp := f.do(t, "POST", "/chat", "", ChatRequest{Message: "hi kilo", Context: []string{"a", "b"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[ChatResponse](t, resp)
	if got.Response != "full: hi kilo" {
		t.Errorf("Response = %q", got.Response)
	}
	if len(got.Context) != 2 || got.Context[1] != "b" {
		t.Errorf("Context = %v", got.Context)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestQuickChat(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	resp := f.do(t, "POST", "/chat/quick", "", ChatRequest{Message: "time?"})
	got := decode[ChatResponse](t, resp)
	if got.Response != "quick: time?" {
		t.Errorf("Response = %q", got.Response)
	}
	if len(f.chat.messages) != 0 {
		t.Error("quick chat must not run the full pipeline")
	}
}

func TestChatEmptyMessageIsBadRequest(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	resp := f.do(t, "POST", "/chat", "", ChatRequest{Message: "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Error != "empty message" || body.Code != string(domain.CodeInvalidInput) {
		t.Errorf("body = %+v", body)
	}
}

func TestChatMalformedJSON(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	resp, err := http.Post(f.http.URL+"/chat", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatInternalErrorHidesDetail(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})
	f.chat.err = errors.New("sqlite: disk I/O error at /var/lib/kilo")

	resp := f.do(t, "POST", "/chat", "", ChatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Error != "internal error" {
		t.Errorf("Error = %q", body.Error)
	}
}

func TestAuthRequiredWhenTokensConfigured(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{Tokens: []config.GatewayToken{{Name: "agent", Token: "s3cret"}}})

	if resp := f.do(t, "POST", "/chat", "", ChatRequest{Message: "hi"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "POST", "/chat", "nope", ChatRequest{Message: "hi"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "POST", "/chat", "s3cret", ChatRequest{Message: "hi"}); resp.StatusCode != http.StatusOK {
		t.Errorf("good token: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "GET", "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz must stay open: status = %d", resp.StatusCode)
	}
}

func TestObservationsLifecycle(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	var added atomic.Int32
	f.bus.Subscribe(domain.EventObservationAdded, func(context.Context, domain.Event) { added.Add(1) })

	for _, content := range []string{"first", "second", "third"} {
		resp := f.do(t, "POST", "/observations", "", ObservationRequest{Type: "desktop", Content: content})
		got := decode[statusMessage](t, resp)
		if got.Status != "ok" || got.Message != "Observation received" {
			t.Fatalf("add: %+v", got)
		}
	}
	if n := added.Load(); n != 3 {
		t.Errorf("observation events = %d, want 3", n)
	}

	resp := f.do(t, "GET", "/observations?limit=2", "", nil)
	list := decode[struct {
		Observations []ObservationView `json:"observations"`
		Total        int               `json:"total"`
	}](t, resp)
	if list.Total != 2 || len(list.Observations) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list.Observations[0].Content != "second" || list.Observations[1].Content != "third" {
		t.Errorf("want chronological order of newest two, got %q, %q",
			list.Observations[0].Content, list.Observations[1].Content)
	}
	if list.Observations[0].Metadata == nil || list.Observations[0].Priority != "normal" {
		t.Errorf("view = %+v", list.Observations[0])
	}

	resp = f.do(t, "DELETE", "/observations", "", nil)
	cleared := decode[statusMessage](t, resp)
	if cleared.Message != "Cleared 3 observations" {
		t.Errorf("clear message = %q", cleared.Message)
	}
}

func TestAddObservationValidation(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	if resp := f.do(t, "POST", "/observations", "", ObservationRequest{Type: "desktop"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing content: status = %d", resp.StatusCode)
	}
	resp := f.do(t, "POST", "/observations", "", ObservationRequest{Type: "desktop", Content: "x", Timestamp: "yesterday"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad timestamp: status = %d", resp.StatusCode)
	}
	if resp := f.do(t, "GET", "/observations?limit=0", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d", resp.StatusCode)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2026-03-14T10:00:00Z",
		"2026-03-14T10:00:00.123456+02:00",
		"2026-03-14T10:00:00.123456",
		"2026-03-14T10:00:00",
	} {
		if _, err := parseTimestamp(s); err != nil {
			t.Errorf("parseTimestamp(%q): %v", s, err)
		}
	}
	if _, err := parseTimestamp("14/03/2026"); err == nil {
		t.Error("expected error for non-ISO timestamp")
	}
}

func TestHealthzDegraded(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})
	f.srv.deps.Store = fakePinger{err: errors.New("locked")}

	resp := f.do(t, "GET", "/healthz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatusAndMetrics(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})
	ctx := context.Background()

	f.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventMessageReceived, nil))
	f.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventToolCallCompleted, map[string]any{"tool": "get_meds", "is_error": false}))
	f.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventToolCallCompleted, map[string]any{"tool": "get_meds", "is_error": true}))

	st := decode[StatusResponse](t, f.do(t, "GET", "/status", "", nil))
	if st.Name != "kilo-brain" || st.Messages.Received != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Tools.Registered != 3 || st.Tools.CallsTotal != 2 || st.Tools.ErrorsTotal != 1 {
		t.Errorf("tools = %+v", st.Tools)
	}
	if st.Services["habits"] != healthmon.StatusError {
		t.Errorf("services = %v", st.Services)
	}

	resp := f.do(t, "GET", "/metrics", "", nil)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"kilo_tool_calls_total 2",
		"kilo_tool_errors_total 1",
		"kilo_tools_registered 3",
		`kilo_service_healthy{service="meds"} 1`,
		`kilo_service_healthy{service="habits"} 0`,
		"# TYPE kilo_messages_received_total counter",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{AllowedOrigins: []string{"http://kilo.local"}})

	req, _ := http.NewRequest(http.MethodOptions, f.http.URL+"/chat", nil)
	req.Header.Set("Origin", "http://kilo.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://kilo.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, f.http.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Allow-Origin %q for foreign origin", got)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.http.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var hello Frame
	if err := wsjson.Read(ctx, ws, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != FrameTypeHello {
		t.Fatalf("first frame = %q, want hello", hello.Type)
	}

	f.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventHealthAlert, map[string]string{"service": "meds"}))

	var frame Frame
	if err := wsjson.Read(ctx, ws, &frame); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if frame.Type != FrameTypeEvent {
		t.Fatalf("frame type = %q", frame.Type)
	}
	var ev domain.Event
	if err := json.Unmarshal(frame.Payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != domain.EventHealthAlert {
		t.Errorf("event type = %q", ev.Type)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	f := newFixture(t, config.GatewayConfig{Tokens: []config.GatewayToken{{Name: "agent", Token: "s3cret"}}})
	base := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, base, nil); err == nil {
		t.Fatal("expected dial without token to fail")
	}
	ws, _, err := websocket.Dial(ctx, base+"?token=s3cret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(config.GatewayConfig{Addr: "127.0.0.1:0"}, Deps{
		Chat:         &fakeChat{},
		Observations: &fakeObservations{},
		Bus:          newTestBus(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.BoundAddr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
