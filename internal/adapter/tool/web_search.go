package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 20
	defaultCacheTTL    = 15 * time.Minute
	maxCacheEntries    = 100
)

type cacheEntry struct {
	results   []SearchResult
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend.
type WebSearchTool struct {
	backend  SearchBackend
	cacheTTL time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
func NewWebSearchTool(backend SearchBackend, cacheTTL time.Duration, logger *slog.Logger) *WebSearchTool {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &WebSearchTool{
		backend:  backend,
		cacheTTL: cacheTTL,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "search_web" }
func (t *WebSearchTool) Description() string {
	return "Search the web for current information the other tools cannot answer."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default: 5)"},
				"time_range": {"type": "string", "enum": ["day", "week", "month", "year"], "description": "Time range filter (optional)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query     string `json:"query"`
	Count     int    `json:"count,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_web", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("query must not be empty")
			}
			span.SetAttributes(
				tracer.StringAttr("tool.query", p.Query),
				tracer.StringAttr("search.backend", t.backend.Name()),
			)

			if p.Count <= 0 {
				p.Count = defaultSearchCount
			}
			if p.Count > maxSearchCount {
				p.Count = maxSearchCount
			}
			if err := ValidateEnum("time_range", p.TimeRange, "day", "week", "month", "year"); err != nil {
				return nil, err
			}

			key := fmt.Sprintf("%s|%d|%s", p.Query, p.Count, p.TimeRange)
			results, ok := t.getCached(key)
			if ok {
				t.logger.Debug("web search cache hit", "query", p.Query)
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
			} else {
				var err error
				results, err = t.backend.Search(ctx, p.Query, p.Count, p.TimeRange)
				if err != nil {
					return nil, err
				}
				if len(results) > p.Count {
					results = results[:p.Count]
				}
				t.putCache(key, results)
			}

			out := map[string]any{"query": p.Query, "results": results, "count": len(results)}
			if len(results) == 0 {
				out["results"] = []SearchResult{}
				out["message"] = fmt.Sprintf("No search results found for %q.", p.Query)
			}
			return out, nil
		},
	)
}

func (t *WebSearchTool) getCached(key string) ([]SearchResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(t.cache, key)
		return nil, false
	}
	return entry.results, true
}

func (t *WebSearchTool) putCache(key string, results []SearchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache[key] = cacheEntry{results: results, expiresAt: time.Now().Add(t.cacheTTL)}

	if len(t.cache) > maxCacheEntries {
		now := time.Now()
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
