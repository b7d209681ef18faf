package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/usecase"
)

const (
	maxBodyBytes             = 1 << 20
	defaultObservationsLimit = 20
)

// ChatRequest is the body of POST /chat and POST /chat/quick.
type ChatRequest struct {
	User    string   `json:"user,omitempty"`
	Message string   `json:"message"`
	Context []string `json:"context,omitempty"`
}

// ChatResponse echoes the caller's context back with the reply.
type ChatResponse struct {
	Response string   `json:"response"`
	Context  []string `json:"context,omitempty"`
}

// ObservationRequest is the body of POST /observations.
type ObservationRequest struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Priority  string         `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ObservationView is one entry of GET /observations.
type ObservationView struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Priority  string         `json:"priority"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps err to a status code. Internal detail never leaves
// the process; it is logged instead.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := domain.ErrorCodeOf(err)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: invalidInputMessage(err), Code: string(code)})
		return
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrMemoryNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: string(code)})
		return
	}
	s.logger.ErrorContext(r.Context(), op+" failed", "error", err, "code", code)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: string(code)})
}

func invalidInputMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return "invalid input"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewDomainError("Gateway.decode", domain.ErrInvalidInput, "invalid JSON body")
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, "chat", s.deps.Chat.Chat)
}

func (s *Server) handleQuickChat(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, "chat.quick", s.deps.Chat.QuickChat)
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, op string,
	run func(context.Context, string) (*usecase.ChatReply, error)) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	reply, err := run(r.Context(), req.Message)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply.Response, Context: req.Context})
}

func (s *Server) handleAddObservation(w http.ResponseWriter, r *http.Request) {
	var req ObservationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeDomainError(w, r, "observations.add", err)
		return
	}
	if strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "type and content are required")
		return
	}

	obs := domain.Observation{
		Type:     req.Type,
		Content:  req.Content,
		Priority: req.Priority,
		Metadata: req.Metadata,
	}
	if req.Timestamp != "" {
		ts, err := parseTimestamp(req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp")
			return
		}
		obs.Timestamp = ts
	}

	saved, err := s.deps.Observations.AddObservation(r.Context(), obs)
	if err != nil {
		s.writeDomainError(w, r, "observations.add", err)
		return
	}
	s.publish(r.Context(), domain.EventObservationAdded, map[string]any{
		"id":       saved.ID,
		"type":     saved.Type,
		"priority": saved.Priority,
	})
	writeJSON(w, http.StatusOK, statusMessage{Status: "ok", Message: "Observation received"})
}

// handleListObservations returns the newest observations in chronological order.
func (s *Server) handleListObservations(w http.ResponseWriter, r *http.Request) {
	limit := defaultObservationsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recent, err := s.deps.Observations.RecentObservations(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, "observations.list", err)
		return
	}
	slices.Reverse(recent)

	views := make([]ObservationView, 0, len(recent))
	for _, o := range recent {
		md := o.Metadata
		if md == nil {
			md = map[string]any{}
		}
		views = append(views, ObservationView{
			Type:      o.Type,
			Content:   o.Content,
			Priority:  o.Priority,
			Timestamp: o.Timestamp.Format(time.RFC3339Nano),
			Metadata:  md,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observations": views,
		"total":        len(views),
	})
}

func (s *Server) handleClearObservations(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Observations.ClearObservations(r.Context())
	if err != nil {
		s.writeDomainError(w, r, "observations.clear", err)
		return
	}
	s.publish(r.Context(), domain.EventObservationCleared, map[string]int{"count": n})
	writeJSON(w, http.StatusOK, statusMessage{
		Status:  "ok",
		Message: fmt.Sprintf("Cleared %d observations", n),
	})
}

// handleHealthz is the unauthenticated liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "healthz: store ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publish(ctx context.Context, typ domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.NewEvent(ctx, typ, payload))
}

// timestampLayouts accepts RFC 3339 plus the offset-less ISO form that
// desktop agents send.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
