package domain

import (
	"context"
	"time"
)

// Memory sources.
const (
	MemorySourceUser         = "user"
	MemorySourceConversation = "conversation"
)

// Memory is a stored piece of text the assistant can recall later.
type Memory struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Observation is a discrete event reported by a desktop agent, device or monitor.
type Observation struct {
	ID        int64          `json:"id,omitempty"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Priority  string         `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MemoryStore persists memories, conversation exchanges and observations.
type MemoryStore interface {
	Remember(ctx context.Context, source, text string) (Memory, error)
	Recall(ctx context.Context, query string, limit int) ([]Memory, error)
	Forget(ctx context.Context, id int64) error
	RecordExchange(ctx context.Context, userMessage, reply string) error

	AddObservation(ctx context.Context, obs Observation) (Observation, error)
	RecentObservations(ctx context.Context, limit int) ([]Observation, error)
	ClearObservations(ctx context.Context) (int, error)
}
