package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateCollaborators(cfg, ve)
	validateProactive(cfg, ve)
	validateTools(cfg, ve)
	validateMemory(cfg, ve)
	validateGateway(cfg, ve)
	validateHealthMonitor(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.Timeout <= 0 {
		ve.Add("agent.timeout must be > 0")
	}
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
	if cfg.Agent.RecentObservations < 0 {
		ve.Add("agent.recent_observations must be >= 0")
	}
}

var validProviderTypes = map[string]bool{
	"gemini": true,
	"ollama": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must not be empty")
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: gemini, ollama)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Type == "ollama" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): base_url is required for ollama", i, p.Name)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			ve.Add("llm.providers[%d] (%s): temperature must be 0-2", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
}

func validateCollaborators(cfg *Config, ve *ValidationError) {
	c := cfg.Collaborators
	if c.Timeout <= 0 {
		ve.Add("collaborators.timeout must be > 0")
	}
	if c.RateLimit < 0 {
		ve.Add("collaborators.rate_limit must be >= 0")
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		ve.Add("collaborators.burst must be > 0 when rate_limit is set")
	}

	services := c.Services()
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validateHTTPURL(services[name].URL); err != nil {
			ve.Add("collaborators.%s.url: %v", name, err)
		}
	}
}

func validateProactive(cfg *Config, ve *ValidationError) {
	if cfg.Proactive.Enabled && cfg.Proactive.CheckTimeout <= 0 {
		ve.Add("proactive.check_timeout must be > 0")
	}
}

var validSearchBackends = map[string]bool{
	"":        true,
	"brave":   true,
	"searxng": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	t := cfg.Tools
	if t.CallTimeout <= 0 {
		ve.Add("tools.call_timeout must be > 0")
	}
	if !validSearchBackends[t.SearchBackend] {
		ve.Add("tools.search_backend %q is invalid (want: brave, searxng)", t.SearchBackend)
	}
	if t.SearchBackend == "searxng" {
		if err := validateHTTPURL(t.SearXNGURL); err != nil {
			ve.Add("tools.searxng_url: %v", err)
		}
	}
	if t.SearchBackend == "brave" {
		if err := validateHTTPURL(t.BraveURL); err != nil {
			ve.Add("tools.brave_url: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i, s := range t.MCPServers {
		if s.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
			continue
		}
		if seen[s.Name] {
			ve.Add("tools.mcp_servers[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("tools.mcp_servers[%d] (%s): command is required for stdio transport", i, s.Name)
			}
		case "http":
			if err := validateHTTPURL(s.URL); err != nil {
				ve.Add("tools.mcp_servers[%d] (%s).url: %v", i, s.Name, err)
			}
		default:
			ve.Add("tools.mcp_servers[%d] (%s): transport %q is invalid (want: stdio, http)", i, s.Name, s.Transport)
		}
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	if cfg.Memory.Path == "" {
		ve.Add("memory.path must not be empty")
	}
	if cfg.Memory.MaxObservations <= 0 {
		ve.Add("memory.max_observations must be > 0")
	}
	if cfg.Memory.RecallLimit <= 0 {
		ve.Add("memory.recall_limit must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", cfg.Gateway.Addr, err)
	}
	for i, tok := range cfg.Gateway.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.tokens[%d] (%s) has an empty token", i, tok.Name)
		}
	}
	rl := cfg.Gateway.RateLimit
	if rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst <= 0) {
		ve.Add("gateway.rate_limit requires requests_per_second > 0 and burst > 0")
	}
}

func validateHealthMonitor(cfg *Config, ve *ValidationError) {
	hm := cfg.HealthMonitor
	if !hm.Enabled {
		return
	}
	if _, err := cron.ParseStandard(hm.Schedule); err != nil {
		ve.Add("health_monitor.schedule %q is invalid: %v", hm.Schedule, err)
	}
	if hm.Timeout <= 0 {
		ve.Add("health_monitor.timeout must be > 0")
	}
	if hm.Cooldown < 0 {
		ve.Add("health_monitor.cooldown must be >= 0")
	}
	for i, t := range hm.Targets {
		if t.Name == "" {
			ve.Add("health_monitor.targets[%d].name must not be empty", i)
		}
		if err := validateHTTPURL(t.URL); err != nil {
			ve.Add("health_monitor.targets[%d].url: %v", i, err)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}

// validateHTTPURL checks that value is an absolute http(s) URL.
func validateHTTPURL(value string) error {
	if value == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
