package collaborator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("test", srv.URL+"/", opts, slog.New(slog.DiscardHandler))
}

func TestClient_GetDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"value":42}`))
	}, Options{})

	var out struct {
		Value int `json:"value"`
	}
	err := c.Get(context.Background(), "/things", map[string][]string{"limit": {"3"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
}

func TestClient_PostSendsJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "food", body["category"])
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}, Options{})

	var out map[string]bool
	require.NoError(t, c.Post(context.Background(), "/x", map[string]string{"category": "food"}, &out))
	assert.True(t, out["ok"])
}

func TestClient_PropagatesRequestID(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
	}, Options{})

	ctx := domain.ContextWithRequestID(context.Background(), "req-1")
	require.NoError(t, c.Get(ctx, "/", nil, nil))
	assert.Equal(t, "req-1", got)
}

func TestClient_EmptyBodyLeavesOutUntouched(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, Options{})

	out := map[string]int{"keep": 1}
	require.NoError(t, c.Get(context.Background(), "/", nil, &out))
	assert.Equal(t, 1, out["keep"])
}

func TestClient_StatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusBadRequest, domain.ErrInvalidInput},
		{http.StatusBadGateway, domain.ErrCollaboratorUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, Options{})

			err := c.Get(context.Background(), "/", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Status)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New("gone", url, Options{}, slog.New(slog.DiscardHandler))
	err := c.Get(context.Background(), "/", nil, nil)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
}

func TestClient_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Options{Timeout: 50 * time.Millisecond})

	err := c.Get(context.Background(), "/", nil, nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestClient_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}, Options{})

	var out map[string]any
	err := c.Get(context.Background(), "/", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_CircuitOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{CircuitBreaker: config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: 2,
		Timeout:     time.Minute,
	}})

	ctx := context.Background()
	for range 2 {
		require.Error(t, c.Get(ctx, "/", nil, nil))
	}
	err := c.Get(ctx, "/", nil, nil)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, Options{CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, MaxFailures: 1}})

	for range 3 {
		err := c.Get(context.Background(), "/", nil, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestDecodeList(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}

	bare, err := decodeList[item](json.RawMessage(`[{"name":"a"},{"name":"b"}]`), "items")
	require.NoError(t, err)
	assert.Len(t, bare, 2)

	wrapped, err := decodeList[item](json.RawMessage(`{"items":[{"name":"c"}],"total":1}`), "items")
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, "c", wrapped[0].Name)

	missing, err := decodeList[item](json.RawMessage(`{"other":[]}`), "items")
	require.NoError(t, err)
	assert.Empty(t, missing)

	empty, err := decodeList[item](json.RawMessage(`null`), "items")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = decodeList[item](json.RawMessage(`"text"`), "items")
	assert.Error(t, err)
}
