package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBraveURL is the Brave Search web endpoint.
const DefaultBraveURL = "https://api.search.brave.com/res/v1/web/search"

// braveFreshness maps time_range values onto Brave's freshness codes.
var braveFreshness = map[string]string{
	"day":   "pd",
	"week":  "pw",
	"month": "pm",
	"year":  "py",
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// BraveBackend searches the web via the Brave Search API. Calls are paced
// to one per second, the free-tier limit.
type BraveBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewBraveBackend creates a Brave Search backend. An empty endpoint uses DefaultBraveURL.
func NewBraveBackend(endpoint, apiKey string, logger *slog.Logger) *BraveBackend {
	if endpoint == "" {
		endpoint = DefaultBraveURL
	}
	return &BraveBackend{
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: endpoint,
		apiKey:   apiKey,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   logger,
	}
}

func (b *BraveBackend) Name() string { return "brave" }

func (b *BraveBackend) Search(ctx context.Context, query string, count int, timeRange string) ([]SearchResult, error) {
	if b.apiKey == "" {
		return nil, ErrSearchNotConfigured
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, ErrSearchRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	if f, ok := braveFreshness[timeRange]; ok {
		q.Set("freshness", f)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrSearchAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrSearchRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search failed (HTTP %d)", resp.StatusCode)
	}

	var br braveResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]SearchResult, 0, min(count, len(br.Web.Results)))
	for _, r := range br.Web.Results {
		if len(results) >= count {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Description})
	}

	b.logger.Debug("brave search completed", "query", query, "results", len(results))
	return results, nil
}
