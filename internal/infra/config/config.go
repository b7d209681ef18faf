package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Proactive     ProactiveConfig     `yaml:"proactive"`
	Tools         ToolsConfig         `yaml:"tools"`
	Memory        MemoryConfig        `yaml:"memory"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
}

// AgentConfig holds conversation loop settings.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
	// RecentObservations is how many observations are appended to the
	// system instruction. 0 disables the section.
	RecentObservations int `yaml:"recent_observations"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "gemini" or "ollama"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ServiceConfig locates one collaborator service.
type ServiceConfig struct {
	URL        string `yaml:"url"`
	HealthPath string `yaml:"health_path"`
}

// CollaboratorsConfig holds the collaborator service endpoints and the
// client policy shared by all of them.
type CollaboratorsConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      float64              `yaml:"rate_limit"` // requests per second per service, 0 = unlimited
	Burst          int                  `yaml:"burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	Meds      ServiceConfig `yaml:"meds"`
	Habits    ServiceConfig `yaml:"habits"`
	Financial ServiceConfig `yaml:"financial"`
	Reminder  ServiceConfig `yaml:"reminder"`
	Library   ServiceConfig `yaml:"library"`
	Security  ServiceConfig `yaml:"security"`
	Gateway   ServiceConfig `yaml:"gateway"`
}

// Services returns the configured collaborators keyed by name.
func (c CollaboratorsConfig) Services() map[string]ServiceConfig {
	return map[string]ServiceConfig{
		"meds":      c.Meds,
		"habits":    c.Habits,
		"financial": c.Financial,
		"reminder":  c.Reminder,
		"library":   c.Library,
		"security":  c.Security,
		"gateway":   c.Gateway,
	}
}

// ProactiveConfig holds proactive context assembly settings.
type ProactiveConfig struct {
	Enabled      bool          `yaml:"enabled"`
	CheckTimeout time.Duration `yaml:"check_timeout"`
	SkipKeywords []string      `yaml:"skip_keywords"`
}

// ToolsConfig holds tool system settings.
type ToolsConfig struct {
	CallTimeout   time.Duration `yaml:"call_timeout"`
	SearchBackend string        `yaml:"search_backend"` // "brave", "searxng", or "" (disabled)
	BraveAPIKey   string        `yaml:"brave_api_key"`
	BraveURL      string        `yaml:"brave_url"`
	SearXNGURL    string        `yaml:"searxng_url"`
	MCPServers    []MCPServer   `yaml:"mcp_servers"`
}

// MCPServer configures an MCP server connection.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// MemoryConfig holds memory and observation store settings.
type MemoryConfig struct {
	Path            string `yaml:"path"`
	MaxObservations int    `yaml:"max_observations"`
	RecallLimit     int    `yaml:"recall_limit"`
}

// RateLimitConfig holds per-client request rate settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// GatewayToken is a named bearer token accepted by the HTTP API.
type GatewayToken struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// GatewayConfig holds HTTP API settings. With no tokens the API is open.
type GatewayConfig struct {
	Addr           string          `yaml:"addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Tokens         []GatewayToken  `yaml:"tokens"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// HealthTarget is one endpoint probed by the health monitor.
type HealthTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HealthMonitorConfig holds the scheduled health probe settings.
type HealthMonitorConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Schedule      string         `yaml:"schedule"`
	Timeout       time.Duration  `yaml:"timeout"`
	SlowThreshold time.Duration  `yaml:"slow_threshold"`
	Cooldown      time.Duration  `yaml:"cooldown"`
	Targets       []HealthTarget `yaml:"targets"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.kilo.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".kilo")
}

const defaultSystemPrompt = `You are Kilo, a mischievous but genuinely helpful personal assistant.
Use your tools instead of promising to help: when the user says they took their meds, call log_medication_taken; when they finish a habit, call log_habit_completion; when they ask to be reminded, call create_reminder; for factual questions, search_library first.
Only reference data you actually have from tool results, observations or the contextual awareness block. If you do not know something, say so.`

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:      5,
			Timeout:            60 * time.Second,
			SystemPrompt:       defaultSystemPrompt,
			RecentObservations: 3,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Providers: []ProviderConfig{
				{
					Name:    "gemini",
					Type:    "gemini",
					BaseURL: "https://generativelanguage.googleapis.com/v1beta",
					Model:   "gemini-2.0-flash",
				},
				{
					Name:    "ollama",
					Type:    "ollama",
					BaseURL: "http://kilo-ollama:11434",
					Model:   "tinyllama:latest",
				},
			},
			Failover: FailoverConfig{
				Enabled:   true,
				Fallbacks: []string{"ollama"},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Collaborators: CollaboratorsConfig{
			Timeout:   10 * time.Second,
			RateLimit: 20,
			Burst:     10,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Meds:      ServiceConfig{URL: "http://kilo-meds:9000", HealthPath: "/health"},
			Habits:    ServiceConfig{URL: "http://kilo-habits:9000", HealthPath: "/health"},
			Financial: ServiceConfig{URL: "http://kilo-financial:9005", HealthPath: "/health"},
			Reminder:  ServiceConfig{URL: "http://kilo-reminder:9002", HealthPath: "/health"},
			Library:   ServiceConfig{URL: "http://kilo-library:9006", HealthPath: "/health"},
			Security:  ServiceConfig{URL: "http://security-monitor:8005", HealthPath: "/health"},
			Gateway:   ServiceConfig{URL: "http://kilo-gateway:8000", HealthPath: "/health"},
		},
		Proactive: ProactiveConfig{
			Enabled:      true,
			CheckTimeout: 2 * time.Second,
			SkipKeywords: []string{"/remember", "/recall", "/forget", "/help", "test", "debug"},
		},
		Tools: ToolsConfig{
			CallTimeout: 10 * time.Second,
			BraveURL:    "https://api.search.brave.com/res/v1/web/search",
		},
		Memory: MemoryConfig{
			Path:            filepath.Join(defaultDataDir(), "brain.db"),
			MaxObservations: 100,
			RecallLimit:     5,
		},
		Gateway: GatewayConfig{
			Addr: ":9004",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 5,
				Burst:             20,
			},
		},
		HealthMonitor: HealthMonitorConfig{
			Enabled:       false,
			Schedule:      "@every 2m",
			Timeout:       10 * time.Second,
			SlowThreshold: 5 * time.Second,
			Cooldown:      5 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("KILO_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps KILO_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KILO_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("KILO_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.Timeout = d
		}
	}
	if v := os.Getenv("KILO_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := "KILO_LLM_PROVIDER_" + envName(p.Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			p.Model = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			p.BaseURL = v
		}
	}

	services := map[string]*ServiceConfig{
		"MEDS":      &cfg.Collaborators.Meds,
		"HABITS":    &cfg.Collaborators.Habits,
		"FINANCIAL": &cfg.Collaborators.Financial,
		"REMINDER":  &cfg.Collaborators.Reminder,
		"LIBRARY":   &cfg.Collaborators.Library,
		"SECURITY":  &cfg.Collaborators.Security,
		"GATEWAY":   &cfg.Collaborators.Gateway,
	}
	for name, svc := range services {
		if v := os.Getenv("KILO_COLLABORATOR_" + name + "_URL"); v != "" {
			svc.URL = v
		}
	}

	if v := os.Getenv("KILO_PROACTIVE_ENABLED"); v != "" {
		cfg.Proactive.Enabled = v == "true"
	}
	if v := os.Getenv("KILO_TOOLS_SEARCH_BACKEND"); v != "" {
		cfg.Tools.SearchBackend = v
	}
	if v := os.Getenv("KILO_TOOLS_BRAVE_API_KEY"); v != "" {
		cfg.Tools.BraveAPIKey = v
	}
	if v := os.Getenv("KILO_TOOLS_SEARXNG_URL"); v != "" {
		cfg.Tools.SearXNGURL = v
	}
	if v := os.Getenv("KILO_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("KILO_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("KILO_GATEWAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("KILO_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Tokens = append(cfg.Gateway.Tokens, GatewayToken{Name: "env", Token: v})
	}
	if v := os.Getenv("KILO_HEALTH_MONITOR_ENABLED"); v != "" {
		cfg.HealthMonitor.Enabled = v == "true"
	}
	if v := os.Getenv("KILO_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("KILO_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("KILO_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("KILO_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// envName upper-cases a config name for use in an environment variable.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file is not writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
