package domain

import "context"

// LLMProvider is the interface for any model backend.
type LLMProvider interface {
	// Chat sends the transcript and tool catalog and returns one model turn.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "gemini", "ollama").
	Name() string
}

// HealthChecker is implemented by providers that can report reachability.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}
