package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"kilo-brain/internal/adapter/llm"
	"kilo-brain/internal/adapter/memory"
	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const probeTimeout = 5 * time.Second

var errNoConfig = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Memory store", Fn: checkMemoryStore},
		{Name: "Collaborators", Fn: checkCollaborators},
		{Name: "Gateway address", Fn: checkGatewayAddr},
		{Name: "Web search", Fn: checkWebSearch},
	}

	fmt.Println("kilo-brain doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	pass, warn, fail := report(os.Stdout, checks, cfg)

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func report(w io.Writer, checks []Check, cfg *config.Config) (pass, warn, fail int) {
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}
	return pass, warn, fail
}

// checkConfigFile returns a check that verifies the config file loads. A
// missing file is only a warning since defaults and KILO_* env vars apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			if errors.As(cfgErr, &ve) {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("%d validation error(s): %s", len(ve.Errors), strings.Join(ve.Errors, "; ")),
					Fix:     "Correct the listed fields in " + cfgPath,
				}
			}
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config load error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and that it is not group/world readable",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkLLMAPIKey verifies the Gemini providers have keys. Ollama needs none.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider under llm.providers",
		}
	}

	var missing []string
	for _, p := range cfg.LLM.Providers {
		if p.Type == "gemini" && p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	switch {
	case len(missing) == len(cfg.LLM.Providers):
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(missing, ", ")),
			Fix:     "Set KILO_LLM_PROVIDER_GEMINI_API_KEY",
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("missing API key for [%s]; those providers are skipped", strings.Join(missing, ", ")),
			Fix:     "Set KILO_LLM_PROVIDER_GEMINI_API_KEY",
		}
	}
	return CheckResult{Status: StatusPass, Message: "API keys configured"}
}

// checkLLMConnectivity asks every provider in the failover chain whether it
// can answer.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}

	chain := []string{cfg.LLM.DefaultProvider}
	if cfg.LLM.Failover.Enabled {
		chain = append(chain, cfg.LLM.Failover.Fallbacks...)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var up, down []string
	for _, name := range chain {
		idx := slices.IndexFunc(cfg.LLM.Providers, func(p config.ProviderConfig) bool { return p.Name == name })
		if idx < 0 {
			down = append(down, name+" (not configured)")
			continue
		}
		provider, err := llm.NewProvider(cfg.LLM.Providers[idx], logger)
		if err != nil {
			down = append(down, fmt.Sprintf("%s (%v)", name, err))
			continue
		}
		hc, ok := provider.(domain.HealthChecker)
		if !ok {
			up = append(up, name+" (unchecked)")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		healthy := hc.IsHealthy(ctx)
		cancel()
		if healthy {
			up = append(up, name)
		} else {
			down = append(down, name)
		}
	}

	switch {
	case len(up) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no model reachable: %s", strings.Join(down, ", ")),
			Fix:     "Check the API key and base_url of each provider",
		}
	case len(down) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("reachable: %s; unreachable: %s", strings.Join(up, ", "), strings.Join(down, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: "reachable: " + strings.Join(up, ", ")}
}

// checkMemoryStore opens the SQLite store, runs its migrations and pings it.
func checkMemoryStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	store, err := memory.New(cfg.Memory.Path, cfg.Memory.MaxObservations, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Memory.Path, err),
			Fix:     "Check that the directory of memory.path is writable",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return CheckResult{Status: StatusPass, Message: "store ready at " + cfg.Memory.Path}
}

// checkCollaborators probes each configured collaborator's health endpoint.
func checkCollaborators(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}

	services := cfg.Collaborators.Services()
	client := &http.Client{Timeout: probeTimeout}
	var down, unset []string
	for _, name := range slices.Sorted(maps.Keys(services)) {
		svc := services[name]
		if svc.URL == "" {
			unset = append(unset, name)
			continue
		}
		resp, err := client.Get(strings.TrimRight(svc.URL, "/") + svc.HealthPath)
		if err != nil {
			down = append(down, name)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			down = append(down, fmt.Sprintf("%s (HTTP %d)", name, resp.StatusCode))
		}
	}

	configured := len(services) - len(unset)
	switch {
	case configured == 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: "no collaborators configured; tools and proactive context are inert",
		}
	case len(down) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d/%d reachable; down: %s", configured-len(down), configured, strings.Join(down, ", ")),
			Fix:     "Start the listed services or correct collaborators.<name>.url",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d/%d reachable", configured, configured)}
}

// checkGatewayAddr verifies the HTTP listen address is free.
func checkGatewayAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot bind %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process holding the port or change gateway.addr",
		}
	}
	ln.Close()

	msg := cfg.Gateway.Addr + " available"
	if len(cfg.Gateway.Tokens) == 0 {
		return CheckResult{Status: StatusWarn, Message: msg + ", no API tokens configured (open access)"}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

// checkWebSearch reports the configured web search backend.
func checkWebSearch(cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNoConfig
	}
	switch cfg.Tools.SearchBackend {
	case "":
		return CheckResult{Status: StatusPass, Message: "disabled"}
	case "brave":
		if cfg.Tools.BraveAPIKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "brave backend selected without an API key",
				Fix:     "Set tools.brave_api_key",
			}
		}
		return CheckResult{Status: StatusPass, Message: "brave"}
	default:
		return CheckResult{Status: StatusPass, Message: cfg.Tools.SearchBackend}
	}
}
