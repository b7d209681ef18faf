// Package healthmon probes collaborator health endpoints on a schedule and
// raises alerts for failing or slow services.
package healthmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/infra/tracer"
	"kilo-brain/internal/usecase/scheduling"
)

// JobName is the scheduler job the monitor registers.
const JobName = "health_monitor"

// ObservationType marks observations recorded by the monitor.
const ObservationType = "health_monitor"

// Defaults applied when the config leaves a field zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultSlowThreshold = 5 * time.Second
	DefaultCooldown      = 5 * time.Minute
	DefaultSchedule      = "@every 2m"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the outcome of the latest probe of a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusSlow      Status = "slow"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// Alert describes one failing probe.
type Alert struct {
	Service   string    `json:"service"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ObservationSink records alerts as observations.
type ObservationSink interface {
	AddObservation(ctx context.Context, obs domain.Observation) (domain.Observation, error)
}

// Monitor probes a fixed set of targets.
type Monitor struct {
	targets  []config.HealthTarget
	client   *http.Client
	slow     time.Duration
	cooldown time.Duration
	schedule string
	sink     ObservationSink
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
	status    map[string]Status
}

// New creates a monitor. sink and bus may be nil.
func New(cfg config.HealthMonitorConfig, targets []config.HealthTarget, sink ObservationSink, bus domain.EventBus, logger *slog.Logger) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Monitor{
		targets:   targets,
		client:    &http.Client{Timeout: timeout},
		slow:      slow,
		cooldown:  cooldown,
		schedule:  schedule,
		sink:      sink,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		lastAlert: make(map[string]time.Time),
		status:    make(map[string]Status),
	}
}

// Targets merges the configured targets with each collaborator's health
// endpoint. Explicit targets win on name clashes. The result is sorted by name.
func Targets(cfg config.HealthMonitorConfig, services map[string]config.ServiceConfig) []config.HealthTarget {
	byName := make(map[string]config.HealthTarget, len(services)+len(cfg.Targets))
	for name, svc := range services {
		if svc.URL == "" {
			continue
		}
		byName[name] = config.HealthTarget{
			Name: name,
			URL:  strings.TrimRight(svc.URL, "/") + svc.HealthPath,
		}
	}
	for _, t := range cfg.Targets {
		byName[t.Name] = t
	}

	out := make([]config.HealthTarget, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		out = append(out, byName[name])
	}
	return out
}

// Schedule registers the monitor's periodic check with s.
func (m *Monitor) Schedule(s *scheduling.Scheduler) error {
	return s.Add(scheduling.Job{
		Name:     JobName,
		Schedule: m.schedule,
		Run: func(ctx context.Context) error {
			m.CheckAll(ctx)
			return nil
		},
	})
}

// Status returns the latest probe status of every target.
func (m *Monitor) Status() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.status)
}

// CheckAll probes every target concurrently and returns the alerts that were
// raised, in target order. Alerts suppressed by the cooldown are not returned.
func (m *Monitor) CheckAll(ctx context.Context) []Alert {
	ctx, span := tracer.StartSpan(ctx, "healthmon.check_all",
		trace.WithAttributes(tracer.IntAttr("healthmon.targets", len(m.targets))),
	)
	defer span.End()

	results := make([]*Alert, len(m.targets))
	var wg sync.WaitGroup
	for i, t := range m.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.check(ctx, t)
		}()
	}
	wg.Wait()

	var raised []Alert
	healthy := 0
	for _, a := range results {
		if a == nil {
			healthy++
			continue
		}
		if m.raise(ctx, *a) {
			raised = append(raised, *a)
		}
	}

	span.SetAttributes(tracer.IntAttr("healthmon.healthy", healthy))
	tracer.SetOK(span)
	m.logger.InfoContext(ctx, "health check completed",
		"healthy", healthy,
		"total", len(m.targets),
		"alerts", len(raised))
	return raised
}

// check probes one target and returns an alert, or nil when it is healthy.
func (m *Monitor) check(ctx context.Context, t config.HealthTarget) *Alert {
	start := time.Now()
	status, alert := m.probe(ctx, t)
	elapsed := time.Since(start)

	if alert == nil && elapsed > m.slow {
		status = StatusSlow
		alert = &Alert{
			Service:  t.Name,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Slow response: %.1fs", elapsed.Seconds()),
		}
	}

	m.mu.Lock()
	prev, seen := m.status[t.Name]
	m.status[t.Name] = status
	m.mu.Unlock()

	if status == StatusHealthy && seen && prev != StatusHealthy {
		m.logger.InfoContext(ctx, "service recovered", "service", t.Name, "was", prev)
		m.publish(ctx, domain.EventHealthRecovered, map[string]string{"service": t.Name, "previous": string(prev)})
	}
	if alert != nil {
		alert.Timestamp = m.now()
	}
	return alert
}

func (m *Monitor) probe(ctx context.Context, t config.HealthTarget) (Status, *Alert) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return StatusError, &Alert{Service: t.Name, Severity: SeverityCritical, Message: "Invalid URL: " + err.Error()}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return StatusError, &Alert{Service: t.Name, Severity: SeverityCritical, Message: "Unreachable: " + err.Error()}
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusUnhealthy, &Alert{
			Service:  t.Name,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}
	return StatusHealthy, nil
}

// raise applies the per (service, severity) cooldown, then publishes the
// alert and records it as an observation. It reports whether the alert went out.
func (m *Monitor) raise(ctx context.Context, a Alert) bool {
	key := a.Service + "_" + string(a.Severity)

	m.mu.Lock()
	if last, ok := m.lastAlert[key]; ok && m.now().Sub(last) < m.cooldown {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "alert suppressed by cooldown", "service", a.Service, "severity", a.Severity)
		return false
	}
	m.lastAlert[key] = m.now()
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "service alert",
		"service", a.Service,
		"severity", a.Severity,
		"message", a.Message)

	m.publish(ctx, domain.EventHealthAlert, a)

	if m.sink != nil {
		priority := "normal"
		if a.Severity == SeverityCritical {
			priority = "high"
		}
		_, err := m.sink.AddObservation(ctx, domain.Observation{
			Type:      ObservationType,
			Content:   fmt.Sprintf("SYSTEM ALERT: %s - %s", a.Service, a.Message),
			Priority:  priority,
			Metadata:  map[string]any{"service": a.Service, "severity": string(a.Severity)},
			Timestamp: a.Timestamp,
		})
		if err != nil {
			m.logger.WarnContext(ctx, "record alert observation failed", "service", a.Service, "error", err)
		}
	}
	return true
}

func (m *Monitor) publish(ctx context.Context, typ domain.EventType, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, domain.NewEvent(ctx, typ, payload))
}
