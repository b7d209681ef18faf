package tool

import (
	"context"
	"errors"
)

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	// Search performs a web search and returns results.
	Search(ctx context.Context, query string, count int, timeRange string) ([]SearchResult, error)
	// Name returns the backend identifier (e.g. "brave").
	Name() string
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

// User-facing search failures. Backends map upstream statuses onto these.
var (
	ErrSearchNotConfigured = errors.New("web search is not configured: missing API key")
	ErrSearchAuth          = errors.New("web search authentication failed (check API key)")
	ErrSearchRateLimited   = errors.New("web search rate limited, try again later")
)

const maxSearchBodySize = 512 * 1024
