package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lightchat/backend/internal/config"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/metrics"
)

const (
	maxErrorBodyBytes = 8 * 1024

	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 2
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune one StreamComplete call. Zero values take the client defaults;
// a negative MaxRetries disables retries.
type Options struct {
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// CacheKey registers the call so a later call with the same key, or Cancel,
	// can abort it.
	CacheKey string
	// OnAttempt runs before every attempt with its zero-based index. Text
	// delivered by a failed attempt is superseded once the next one starts.
	OnAttempt func(attempt int)
}

// KeySource supplies the API key at call time.
type KeySource interface {
	Get(key string) string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type ClientOption func(*Client)

func WithSleeper(sleep SleepFunc) ClientOption {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log.With("component", "openrouter")
		}
	}
}

type streamAPIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamAPIResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Client struct {
	keys       KeySource
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	sleep      SleepFunc
	log        *logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	cancel context.CancelFunc
}

func NewClient(cfg config.Config, keys KeySource, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		keys:       keys,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		referer:    strings.TrimSpace(cfg.SiteURL),
		title:      strings.TrimSpace(cfg.SiteTitle),
		httpClient: httpClient,
		timeout:    cfg.UpstreamTimeout,
		maxRetries: cfg.UpstreamMaxRetries,
		sleep:      waitWithContext,
		log:        logger.Nop(),
		inflight:   make(map[string]*inflightCall),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamComplete sends messages upstream and calls onDelta for every non-empty
// content fragment in arrival order. Failed attempts are retried with
// exponential backoff; opts.OnAttempt marks where a retried attempt starts so
// callers can drop the fragments of the failed one. A cancelled ctx yields ErrCancelled and is never retried.
func (c *Client) StreamComplete(ctx context.Context, messages []Message, onDelta func(string) error, opts Options) error {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return errors.New("model is required")
	}
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	apiKey := ""
	if c.keys != nil {
		apiKey = strings.TrimSpace(c.keys.Get(config.KeyOpenRouterAPIKey))
	}
	if apiKey == "" {
		return ErrMissingAPIKey
	}

	payload, err := json.Marshal(streamAPIRequest{
		Model:    model,
		Messages: CompressHistory(messages),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("marshal openrouter request: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	maxRetries := c.maxRetries
	switch {
	case opts.MaxRetries > 0:
		maxRetries = opts.MaxRetries
	case opts.MaxRetries < 0:
		maxRetries = 0
	}

	callCtx, release := c.register(ctx, opts.CacheKey)
	defer release()

	started := time.Now()
	defer func() { metrics.UpstreamDuration.Observe(time.Since(started).Seconds()) }()

	state := NewRetryState(maxRetries)
	for attempt := 0; ; attempt++ {
		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt)
		}
		err := c.attempt(callCtx, apiKey, payload, timeout, onDelta)
		if err == nil {
			metrics.UpstreamAttempts.WithLabelValues("ok").Inc()
			return nil
		}
		if callCtx.Err() != nil {
			metrics.UpstreamAttempts.WithLabelValues("cancelled").Inc()
			return ErrCancelled
		}
		var cbErr *callbackError
		if errors.As(err, &cbErr) {
			metrics.UpstreamAttempts.WithLabelValues("fatal").Inc()
			return cbErr.err
		}
		metrics.UpstreamAttempts.WithLabelValues("retryable").Inc()

		delay, ok := state.Next()
		if !ok {
			return &UpstreamError{Attempts: state.Attempt + 1, Err: err}
		}
		c.log.Warn("openrouter attempt failed, retrying",
			"model", model,
			"attempt", state.Attempt,
			"max_retries", state.MaxRetries,
			"delay", delay.String(),
			"error", err.Error(),
		)
		metrics.UpstreamRetries.Inc()
		if err := c.sleep(callCtx, delay); err != nil {
			metrics.UpstreamAttempts.WithLabelValues("cancelled").Inc()
			return ErrCancelled
		}
	}
}

// Cancel aborts the in-flight call registered under key.
func (c *Client) Cancel(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	c.mu.Lock()
	call, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	if ok {
		call.cancel()
	}
	return ok
}

func (c *Client) register(ctx context.Context, key string) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	key = strings.TrimSpace(key)
	if key == "" {
		return callCtx, cancel
	}

	call := &inflightCall{cancel: cancel}
	c.mu.Lock()
	previous := c.inflight[key]
	c.inflight[key] = call
	c.mu.Unlock()
	if previous != nil {
		previous.cancel()
	}

	return callCtx, func() {
		c.mu.Lock()
		if c.inflight[key] == call {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel()
	}
}

func (c *Client) attempt(ctx context.Context, apiKey string, payload []byte, timeout time.Duration, onDelta func(string) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var parsed streamAPIResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			continue
		}
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return fmt.Errorf("openrouter stream error: %s", strings.TrimSpace(parsed.Error.Message))
		}

		for _, choice := range parsed.Choices {
			delta := choice.Delta.Content
			if delta == "" || onDelta == nil {
				continue
			}
			if err := onDelta(delta); err != nil {
				return &callbackError{err: err}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("openrouter attempt timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("read openrouter stream: %w", err)
	}
	return nil
}
