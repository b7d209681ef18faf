package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/infra/tracer"
)

// maxResponseBody caps how much of a collaborator response is read.
const maxResponseBody = 4 * 1024 * 1024

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
	defaultTimeout       time.Duration = 10 * time.Second
)

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.Status)
}

// Unwrap maps the status onto the domain taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrAuthInvalid
	case e.Status >= 500:
		return domain.ErrCollaboratorUnavailable
	default:
		return domain.ErrInvalidInput
	}
}

// Options tunes a Client.
type Options struct {
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 = unlimited
	Burst          int
	CircuitBreaker config.CircuitBreakerConfig
	HTTPClient     *http.Client
}

// OptionsFromConfig builds the shared client options from config.
func OptionsFromConfig(cfg config.CollaboratorsConfig) Options {
	return Options{
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		Burst:          cfg.Burst,
		CircuitBreaker: cfg.CircuitBreaker,
	}
}

// Client talks JSON over HTTP to one collaborator service. Every call gets
// its own timeout, waits on the outbound rate limiter and goes through the
// service's circuit breaker.
type Client struct {
	service string
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// New creates a client for service rooted at baseURL.
func New(service, baseURL string, opts Options, logger *slog.Logger) *Client {
	c := &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.CircuitBreaker.Enabled {
		c.breaker = newBreaker(service, opts.CircuitBreaker, logger)
	}
	return c
}

func newBreaker(service string, cfg config.CircuitBreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "collaborator:" + service,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A 4xx means the service is up and answered; only outages trip the breaker.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Status < 500
			}
			return err == nil
		},
	})
}

// Service returns the collaborator name.
func (c *Client) Service() string { return c.service }

// BaseURL returns the collaborator root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues GET path?query and decodes the JSON response into out (if non-nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues POST path with body encoded as JSON (nil sends no body) and
// decodes the response into out (if non-nil).
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "collaborator."+c.service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			tracer.StringAttr("collaborator.service", c.service),
			tracer.StringAttr("http.method", method),
			tracer.StringAttr("http.path", path),
		),
	)
	var err error
	defer func() { tracer.Finish(span, err) }()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			err = fmt.Errorf("%s: encode request: %w", c.service, err)
			return err
		}
	}

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			err = fmt.Errorf("%s: %w: %v", c.service, domain.ErrRateLimit, werr)
			return err
		}
	}

	call := func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, payload)
	}

	var respBody []byte
	if c.breaker != nil {
		respBody, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s: %w: %w", c.service, domain.ErrCollaboratorUnavailable, domain.ErrCircuitOpen)
		}
	} else {
		respBody, err = call()
	}
	if err != nil {
		c.logger.DebugContext(ctx, "collaborator call failed",
			"service", c.service, "method", method, "path", path, "error", err)
		return err
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if uerr := json.Unmarshal(respBody, out); uerr != nil {
			err = fmt.Errorf("%s: decode response: %w", c.service, uerr)
			return err
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := domain.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", c.service, domain.ErrTimeout)
		}
		// Drop the request URL; the error text reaches the model.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%s: %w: %v", c.service, domain.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", c.service, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w: read response: %v", c.service, domain.ErrCollaboratorUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: c.service, Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under key. An empty or null body yields an empty list.
func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	inner, ok := wrapped[key]
	if !ok {
		return nil, nil
	}
	return decodeList[T](inner, key)
}
