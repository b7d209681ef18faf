// Package gateway exposes the brain over HTTP: chat, observations, health
// and a WebSocket stream of bus events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/infra/middleware"
	"kilo-brain/internal/usecase"
	"kilo-brain/internal/usecase/healthmon"
)

// ChatService answers chat messages.
type ChatService interface {
	Chat(ctx context.Context, message string) (*usecase.ChatReply, error)
	QuickChat(ctx context.Context, message string) (*usecase.ChatReply, error)
}

// ObservationStore persists observations.
type ObservationStore interface {
	AddObservation(ctx context.Context, obs domain.Observation) (domain.Observation, error)
	RecentObservations(ctx context.Context, limit int) ([]domain.Observation, error)
	ClearObservations(ctx context.Context) (int, error)
}

// HealthReporter reports the latest collaborator probe results.
type HealthReporter interface {
	Status() map[string]healthmon.Status
}

// ToolLister lists the registered tools.
type ToolLister interface {
	Schemas() []domain.ToolSchema
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP API serves. Health, Tools and Store
// may be nil.
type Deps struct {
	Chat         ChatService
	Observations ObservationStore
	Health       HealthReporter
	Tools        ToolLister
	Store        Pinger
	Bus          domain.EventBus
	Logger       *slog.Logger
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the HTTP gateway.
type Server struct {
	cfg       config.GatewayConfig
	deps      Deps
	auth      *StaticTokenAuth
	metrics   *Metrics
	logger    *slog.Logger
	startTime time.Time

	clients   sync.Map // connID (uint64) -> *clientConn
	nextID    atomic.Uint64
	unsubs    []func()
	stopOnce  sync.Once
	httpSrv   *http.Server
	boundAddr atomic.Value
}

// NewServer creates a gateway server and subscribes it to the event bus.
func NewServer(cfg config.GatewayConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		auth:      NewStaticTokenAuth(cfg.Tokens),
		metrics:   &Metrics{},
		logger:    deps.Logger,
		startTime: time.Now(),
	}
	if deps.Bus != nil {
		s.unsubs = append(s.unsubs, s.metrics.subscribe(deps.Bus)...)
		s.unsubs = append(s.unsubs, deps.Bus.SubscribeAll(s.broadcast))
	}
	return s
}

// Handler builds the routed handler wrapped in the middleware chain. The
// rate limiter's background sweep stops when ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /chat/quick", s.requireAuth(s.handleQuickChat))
	mux.HandleFunc("POST /observations", s.requireAuth(s.handleAddObservation))
	mux.HandleFunc("GET /observations", s.requireAuth(s.handleListObservations))
	mux.HandleFunc("DELETE /observations", s.requireAuth(s.handleClearObservations))
	mux.HandleFunc("GET /status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /metrics", s.requireAuth(s.handleMetrics))
	mux.HandleFunc("GET /ws", s.handleUpgrade)

	var h http.Handler = mux
	if rl := s.cfg.RateLimit; rl.Enabled {
		h = middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}, s.logger)(h)
	}
	h = s.cors(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.AccessLog(s.logger)(h)
	return middleware.RequestID(h)
}

// Start serves HTTP on the configured address. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop unsubscribes from the bus, disconnects WebSocket clients and shuts
// the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() { err = s.stop(ctx) })
	return err
}

func (s *Server) stop(ctx context.Context) error {
	for _, unsub := range s.unsubs {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// cors answers preflight requests and sets Access-Control-Allow-Origin for
// allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// broadcast forwards a bus event to every connected WebSocket client.
func (s *Server) broadcast(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "event", event.Type)
		}
		return true
	})
}

// wsOriginPatterns allows local development hosts plus the configured origins.
func (s *Server) wsOriginPatterns() []string {
	patterns := []string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}
	for _, o := range s.cfg.AllowedOrigins {
		if u, ok := stripScheme(o); ok {
			patterns = append(patterns, u)
		}
	}
	return patterns
}

func stripScheme(origin string) (string, bool) {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):], true
		}
	}
	return origin, origin != ""
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   info,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.logger.Info("gateway client connected", "conn_id", connID, "client", info.Name)

	hello, _ := json.Marshal(map[string]any{"conn_id": connID})
	cc.sendCh <- Frame{Type: FrameTypeHello, Payload: hello}

	// Clients only listen; CloseRead discards anything they send and
	// cancels ctx when the connection goes away.
	ctx := ws.CloseRead(r.Context())
	s.writeLoop(ctx, cc)

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
