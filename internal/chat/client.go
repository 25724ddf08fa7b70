package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/tradestream/internal/stream"
)

var (
	// ErrCircuitOpen is returned while the endpoint is failing and calls are
	// short-circuited.
	ErrCircuitOpen = errors.New("chat endpoint circuit open")
	// ErrRateLimited is returned when a send cannot be admitted before ctx ends.
	ErrRateLimited = errors.New("chat send rate limited")
)

// RequestMessage is one history entry sent to the chat endpoint.
type RequestMessage struct {
	Role    stream.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is the chat endpoint request body.
type Request struct {
	Messages            []RequestMessage `json:"messages"`
	Provider            string           `json:"provider,omitempty"`
	Context             map[string]any   `json:"context,omitempty"`
	UseExtendedThinking bool             `json:"useExtendedThinking"`
}

// Opener starts a streamed response for a request.
type Opener interface {
	Open(ctx context.Context, req Request) (ChunkSource, error)
}

// BreakerConfig configures the circuit breaker in front of the endpoint.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
	Interval    time.Duration
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Path    string
	Token   string
	// Timeout bounds connecting and waiting for response headers. The body
	// itself may stream for as long as the backend keeps it open.
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
	Breaker           BreakerConfig
}

// Client opens streamed responses from the chat endpoint.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Opener = (*Client)(nil)

// NewClient creates a new chat endpoint client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	path := cfg.Path
	if path == "" {
		path = "/api/chat"
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "chat:" + cfg.BaseURL,
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60.0, burst)
	}

	return &Client{
		url:   strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		token: cfg.Token,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

// Open sends req and returns the response body as a ChunkSource. The request
// is bound to ctx, so cancelling ctx aborts the body as well.
func (c *Client) Open(ctx context.Context, req Request) (ChunkSource, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}

	c.logger.Debug("chat stream opened", "url", c.url, "messages", len(req.Messages))
	return NewBodySource(resp.Body), nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("post chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp, nil
}
