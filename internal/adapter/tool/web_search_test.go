package tool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type countingBackend struct {
	calls   atomic.Int32
	results []SearchResult
	err     error
}

func (b *countingBackend) Name() string { return "fake" }
func (b *countingBackend) Search(_ context.Context, _ string, _ int, _ string) ([]SearchResult, error) {
	b.calls.Add(1)
	return b.results, b.err
}

func TestWebSearchCachesResults(t *testing.T) {
	backend := &countingBackend{results: []SearchResult{{Title: "Go", URL: "https://go.dev"}}}
	tl := NewWebSearchTool(backend, 0, nopLogger())

	for range 2 {
		p := decodePayload(t, run(t, tl, `{"query":"golang"}`))
		if p["count"] != 1.0 {
			t.Fatalf("payload = %v", p)
		}
	}
	if backend.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls.Load())
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	res := run(t, NewWebSearchTool(&countingBackend{}, 0, nopLogger()), `{"query":"  "}`)
	if !res.IsError {
		t.Error("blank query should fail")
	}
}

func TestWebSearchNoResults(t *testing.T) {
	p := decodePayload(t, run(t, NewWebSearchTool(&countingBackend{}, 0, nopLogger()), `{"query":"zzz"}`))
	if !strings.HasPrefix(p["message"].(string), "No search results found") {
		t.Errorf("payload = %v", p)
	}
}

func TestBraveBackendMissingKey(t *testing.T) {
	b := NewBraveBackend("", "", nopLogger())
	_, err := b.Search(context.Background(), "q", 5, "")
	if !errors.Is(err, ErrSearchNotConfigured) {
		t.Errorf("err = %v", err)
	}
	if err.Error() != "web search is not configured: missing API key" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestBraveBackendStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrSearchAuth},
		{http.StatusTooManyRequests, ErrSearchRateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		b := NewBraveBackend(srv.URL, "key", nopLogger())
		_, err := b.Search(context.Background(), "q", 5, "")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestBraveBackendParsesResults(t *testing.T) {
	var token, freshness, count string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Subscription-Token")
		freshness = r.URL.Query().Get("freshness")
		count = r.URL.Query().Get("count")
		w.Write([]byte(`{"web":{"results":[
			{"title":"A","url":"https://a.example","description":"first"},
			{"title":"B","url":"https://b.example","description":"second"},
			{"title":"C","url":"https://c.example","description":"third"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBraveBackend(srv.URL, "secret", nopLogger())
	results, err := b.Search(context.Background(), "news", 2, "week")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if token != "secret" || freshness != "pw" || count != "2" {
		t.Errorf("token=%q freshness=%q count=%q", token, freshness, count)
	}
	if len(results) != 2 || results[1].Content != "second" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearXNGBackend(t *testing.T) {
	var format string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format = r.URL.Query().Get("format")
		w.Write([]byte(`{"results":[{"title":"X","url":"https://x.example","content":"body"}]}`))
	}))
	defer srv.Close()

	b := NewSearXNGBackend(srv.URL+"/", nopLogger())
	results, err := b.Search(context.Background(), "x", 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if format != "json" || len(results) != 1 || results[0].Title != "X" {
		t.Errorf("format=%q results=%+v", format, results)
	}
}
