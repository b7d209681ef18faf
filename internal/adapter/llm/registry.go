package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider creates the backend named by cfg.Type.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Type {
	case "gemini":
		return NewGeminiProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	default:
		return nil, domain.NewDomainError("llm.NewProvider", domain.ErrProviderNotFound, cfg.Type)
	}
}

// usable reports whether a provider has what it needs to answer. Gemini
// without an API key counts as unconfigured.
func usable(cfg config.ProviderConfig) bool {
	return cfg.Type != "gemini" || cfg.APIKey != ""
}

// Build registers every configured provider, each behind its own circuit
// breaker when enabled, and returns the provider the conversation loop
// should use: the default one, wrapped with failover when fallbacks are
// configured. An unconfigured default is skipped in favour of the first
// usable fallback.
func Build(cfg config.LLMConfig, logger *slog.Logger) (*Registry, domain.LLMProvider, error) {
	registry := NewRegistry()
	configured := make(map[string]bool, len(cfg.Providers))

	for _, pc := range cfg.Providers {
		provider, err := NewProvider(pc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			provider = NewCircuitBreakerProvider(provider, cfg.CircuitBreaker, logger)
		}
		if err := registry.Register(provider); err != nil {
			return nil, nil, fmt.Errorf("llm provider %s: %w", pc.Name, err)
		}
		configured[pc.Name] = usable(pc)
	}

	chain := []string{cfg.DefaultProvider}
	if cfg.Failover.Enabled {
		chain = append(chain, cfg.Failover.Fallbacks...)
	}

	var providers []domain.LLMProvider
	for _, name := range chain {
		p, err := registry.Get(name)
		if err != nil {
			return nil, nil, fmt.Errorf("llm chain: %w", err)
		}
		if !configured[name] {
			logger.Warn("llm provider not configured, skipping", "provider", name)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, nil, domain.NewDomainError("llm.Build", domain.ErrNotConfigured, "no usable llm provider")
	}

	if len(providers) == 1 {
		return registry, providers[0], nil
	}
	logger.Info("model failover enabled", "primary", providers[0].Name(), "fallbacks", len(providers)-1)
	return registry, NewFailoverProvider(providers[0], providers[1:], logger), nil
}
