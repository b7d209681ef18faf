package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/usecase/healthmon"
)

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	MessagesRecv    atomic.Int64
	MessagesSent    atomic.Int64
	LLMCallsTotal   atomic.Int64
	AgentErrors     atomic.Int64
	ToolCallsTotal  atomic.Int64
	ToolErrorsTotal atomic.Int64
	Observations    atomic.Int64
	HealthAlerts    atomic.Int64
}

// subscribe wires the counters to bus events and returns the unsubscribe funcs.
func (m *Metrics) subscribe(bus domain.EventBus) []func() {
	count := func(typ domain.EventType, c *atomic.Int64) func() {
		return bus.Subscribe(typ, func(context.Context, domain.Event) { c.Add(1) })
	}
	return []func(){
		count(domain.EventMessageReceived, &m.MessagesRecv),
		count(domain.EventMessageSent, &m.MessagesSent),
		count(domain.EventLLMCallCompleted, &m.LLMCallsTotal),
		count(domain.EventAgentError, &m.AgentErrors),
		count(domain.EventObservationAdded, &m.Observations),
		count(domain.EventHealthAlert, &m.HealthAlerts),
		bus.Subscribe(domain.EventToolCallCompleted, func(_ context.Context, e domain.Event) {
			m.ToolCallsTotal.Add(1)
			var p struct {
				IsError bool `json:"is_error"`
			}
			if json.Unmarshal(e.Payload, &p) == nil && p.IsError {
				m.ToolErrorsTotal.Add(1)
			}
		}),
	}
}

// StatusResponse is the JSON body returned by GET /status.
type StatusResponse struct {
	Name          string                      `json:"name"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Messages      MessageStatus               `json:"messages"`
	Tools         ToolStatus                  `json:"tools"`
	Services      map[string]healthmon.Status `json:"services,omitempty"`
}

// MessageStatus holds chat counters.
type MessageStatus struct {
	Received int64 `json:"received"`
	Sent     int64 `json:"sent"`
	Errors   int64 `json:"errors"`
}

// ToolStatus holds tool usage stats.
type ToolStatus struct {
	Registered  int   `json:"registered"`
	CallsTotal  int64 `json:"calls_total"`
	ErrorsTotal int64 `json:"errors_total"`
}

func (s *Server) toolCount() int {
	if s.deps.Tools == nil {
		return 0
	}
	return len(s.deps.Tools.Schemas())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	resp := StatusResponse{
		Name:          "kilo-brain",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Messages: MessageStatus{
			Received: m.MessagesRecv.Load(),
			Sent:     m.MessagesSent.Load(),
			Errors:   m.AgentErrors.Load(),
		},
		Tools: ToolStatus{
			Registered:  s.toolCount(),
			CallsTotal:  m.ToolCallsTotal.Load(),
			ErrorsTotal: m.ToolErrorsTotal.Load(),
		},
	}
	if s.deps.Health != nil {
		resp.Services = s.deps.Health.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics writes GET /metrics in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	m := s.metrics

	metric := func(name, help, typ string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
		fmt.Fprintf(w, "%s %v\n", name, value)
	}

	metric("kilo_messages_received_total", "Total chat messages received.", "counter", m.MessagesRecv.Load())
	metric("kilo_messages_sent_total", "Total chat replies sent.", "counter", m.MessagesSent.Load())
	metric("kilo_llm_calls_total", "Total LLM calls.", "counter", m.LLMCallsTotal.Load())
	metric("kilo_agent_errors_total", "Total failed LLM calls.", "counter", m.AgentErrors.Load())
	metric("kilo_tool_calls_total", "Total tool invocations.", "counter", m.ToolCallsTotal.Load())
	metric("kilo_tool_errors_total", "Total tool errors.", "counter", m.ToolErrorsTotal.Load())
	metric("kilo_tools_registered", "Number of registered tools.", "gauge", s.toolCount())
	metric("kilo_observations_added_total", "Total observations received.", "counter", m.Observations.Load())
	metric("kilo_health_alerts_total", "Total health alerts raised.", "counter", m.HealthAlerts.Load())

	if s.deps.Health != nil {
		fmt.Fprintf(w, "# HELP kilo_service_healthy Whether a collaborator passed its last probe.\n")
		fmt.Fprintf(w, "# TYPE kilo_service_healthy gauge\n")
		for name, st := range s.deps.Health.Status() {
			up := 0
			if st == healthmon.StatusHealthy {
				up = 1
			}
			fmt.Fprintf(w, "kilo_service_healthy{service=%q} %d\n", name, up)
		}
	}

	metric("kilo_uptime_seconds", "Seconds since the brain started.", "gauge", fmt.Sprintf("%.0f", time.Since(s.startTime).Seconds()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metric("go_goroutines", "Number of goroutines.", "gauge", runtime.NumGoroutine())
	metric("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", "gauge", mem.Alloc)
	metric("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", "gauge", mem.Sys)
}
