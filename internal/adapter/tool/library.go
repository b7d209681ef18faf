package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

// SearchLibraryTool queries the knowledge library.
type SearchLibraryTool struct {
	library domain.LibraryService
	logger  *slog.Logger
}

// NewSearchLibraryTool creates the search_library tool.
func NewSearchLibraryTool(library domain.LibraryService, logger *slog.Logger) *SearchLibraryTool {
	return &SearchLibraryTool{library: library, logger: logger}
}

func (t *SearchLibraryTool) Name() string { return "search_library" }
func (t *SearchLibraryTool) Description() string {
	return "Search the user's library of verified facts: health guidelines, financial advice, cooking safety, psychology. Use for factual questions."
}

func (t *SearchLibraryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"}
			},
			"required": ["query"]
		}`),
	}
}

type searchLibraryParams struct {
	Query string `json:"query"`
}

func (t *SearchLibraryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_library", t.logger, params,
		func(ctx context.Context, span trace.Span, p searchLibraryParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.query", p.Query))

			results, err := t.library.Search(ctx, p.Query)
			if err != nil {
				return nil, fmt.Errorf("library search failed: %w", err)
			}
			if results == nil {
				results = []domain.LibraryEntry{}
			}
			return map[string]any{"results": results, "count": len(results)}, nil
		},
	)
}

// AddLibraryEntryTool stores a new fact in the library.
type AddLibraryEntryTool struct {
	library domain.LibraryService
	logger  *slog.Logger
}

// NewAddLibraryEntryTool creates the add_library_entry tool.
func NewAddLibraryEntryTool(library domain.LibraryService, logger *slog.Logger) *AddLibraryEntryTool {
	return &AddLibraryEntryTool{library: library, logger: logger}
}

func (t *AddLibraryEntryTool) Name() string { return "add_library_entry" }
func (t *AddLibraryEntryTool) Description() string {
	return "Save a fact or note to the user's library."
}

func (t *AddLibraryEntryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "Short title"},
				"content": {"type": "string", "description": "The fact or note"},
				"category": {"type": "string", "description": "Optional category, e.g. health or finance"}
			},
			"required": ["title", "content"]
		}`),
	}
}

type addLibraryParams struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

func (t *AddLibraryEntryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.add_library_entry", t.logger, params,
		func(ctx context.Context, _ trace.Span, p addLibraryParams) (any, error) {
			if err := RequireFields("title", p.Title, "content", p.Content); err != nil {
				return nil, err
			}
			entry := domain.LibraryEntry{"title": p.Title, "content": p.Content}
			if p.Category != "" {
				entry["category"] = p.Category
			}
			saved, err := t.library.AddEntry(ctx, entry)
			if err != nil {
				return nil, fmt.Errorf("failed to add library entry: %w", err)
			}
			if len(saved) == 0 {
				saved = emptyObject
			}
			return map[string]any{"success": true, "entry": saved}, nil
		},
	)
}
