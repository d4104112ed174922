package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Retry policy: a short linear backoff, since pushes are already spread by
// the rate limiter.
const (
	maxAttempts  = 3
	retryStep    = time.Second
	maxErrorBody = 512
)

// envelope is the response wrapper of every API call.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to one destination index. Safe for concurrent use; the rate
// limiter is shared by all callers.
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a destination client. A non-positive limit disables
// rate limiting.
func NewClient(name, baseURL, token string, httpClient *http.Client, limit float64, burst int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if burst < 1 {
		burst = 1
	}

	lim := rate.NewLimiter(rate.Inf, burst)
	if limit > 0 {
		lim = rate.NewLimiter(rate.Limit(limit), burst)
	}

	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		limiter:    lim,
		logger:     logger.With(slog.String("destination", name)),
		sleepFunc:  timeSleep,
	}
}

// Name returns the configured destination name.
func (c *Client) Name() string {
	return c.name
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
}

// do sends r with bearer auth, retrying throttling and server errors, and
// returns the envelope's data on success.
func (c *Client) do(ctx context.Context, r request) (json.RawMessage, error) {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("destination: waiting for rate limiter: %w", err)
		}

		data, retryAfter, err := c.doOnce(ctx, r)
		if err == nil {
			return data, nil
		}

		if retryAfter < 0 || attempt >= maxAttempts || ctx.Err() != nil {
			return nil, err
		}

		backoff := retryAfter
		if backoff == 0 {
			backoff = retryStep * time.Duration(attempt)
		}

		c.logger.Warn("retrying destination request",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("destination: request canceled: %w", sleepErr)
		}
	}
}

// doOnce performs one attempt. retryAfter is negative when the failure is
// not retryable, zero for the default backoff, and positive when the server
// asked for a specific delay.
func (c *Client) doOnce(ctx context.Context, r request) (json.RawMessage, time.Duration, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, -1, fmt.Errorf("destination: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("destination: %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("destination: reading %s %s response: %w", r.method, r.path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw), maxErrorBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
		}

		if !isRetryable(resp.StatusCode) {
			return nil, -1, apiErr
		}

		return nil, retryAfter(resp), apiErr
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, -1, fmt.Errorf("destination: decoding %s %s response: %w", r.method, r.path, err)
	}

	if env.Code != 0 {
		return nil, -1, &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Message,
			Err:        ErrRejected,
		}
	}

	c.logger.Debug("destination request succeeded",
		slog.String("method", r.method),
		slog.String("path", r.path),
	)

	return env.Data, 0, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any) (json.RawMessage, error) {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("destination: encoding request: %w", err)
		}
	}

	return c.do(ctx, request{method: method, path: path, body: body, contentType: "application/json"})
}

func retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
