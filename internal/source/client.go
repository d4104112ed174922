package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	maxErrorBody   = 4096
)

// authErrorCodes are error codes in a 403 body that mean the session itself
// was rejected rather than access to one node.
var authErrorCodes = map[string]bool{
	"session_expired": true,
	"invalid_token":   true,
}

// Client is an HTTP client for the source service (and, pointed at a
// different base URL, the render service). Every authenticated call goes
// through the shared Session: headers come from it, 401s expire it, and its
// gate serializes calls.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	logger     *slog.Logger
	userAgent  string
	pageSize   int

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a source service client. The first client created for a
// session also becomes the session's organization lookup.
func NewClient(baseURL string, httpClient *http.Client, session *Session, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		session:    session,
		logger:     logger,
		userAgent:  userAgent,
		pageSize:   defaultPageSize,
		sleepFunc:  timeSleep,
	}

	session.mu.Lock()
	if session.orgLookup == nil {
		session.orgLookup = c.lookupOrg
	}
	session.mu.Unlock()

	return c
}

// SetPageSize overrides the children listing page size.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// Session returns the session this client authenticates with.
func (c *Client) Session() *Session {
	return c.session
}

// Request describes one authenticated call relative to the base URL.
type Request struct {
	Method      string
	Path        string
	Body        []byte
	ContentType string
	RequireOrg  bool
}

// Do executes an authenticated request under the session gate and returns
// the response body. Retryable failures are retried with backoff; a 401
// marks the session expired and is never retried.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	var data []byte

	err := c.session.Serialize(ctx, func() error {
		var doErr error
		data, doErr = c.doRetry(ctx, c.baseURL+r.Path, r, true)

		return doErr
	})

	return data, err
}

// DoJSON sends in (if non-nil) as JSON and decodes the response into out
// (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any, requireOrg bool) error {
	r := Request{Method: method, Path: path, RequireOrg: requireOrg}

	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("source: encoding %s %s: %w", method, path, err)
		}

		r.Body = body
		r.ContentType = "application/json"
	}

	data, err := c.Do(ctx, r)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("source: decoding %s %s: %w", method, path, err)
	}

	return nil
}

// DoPreAuth executes a request against a pre-authenticated URL (pre-signed
// storage URLs, export results). No Authorization header is sent and the
// session gate is not taken. header values are set verbatim, including
// empty ones.
func (c *Client) DoPreAuth(ctx context.Context, method, rawURL string, body []byte, header http.Header) ([]byte, error) {
	r := Request{Method: method, Path: "(pre-authenticated URL)", Body: body}

	return c.doRetryWithHeader(ctx, rawURL, r, false, header)
}

func (c *Client) doRetry(ctx context.Context, url string, r Request, authed bool) ([]byte, error) {
	return c.doRetryWithHeader(ctx, url, r, authed, nil)
}

func (c *Client) doRetryWithHeader(
	ctx context.Context, url string, r Request, authed bool, extra http.Header,
) ([]byte, error) {
	var attempt int

	for {
		resp, err := c.doOnce(ctx, url, r, authed, extra)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				return nil, err
			}

			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("source: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.Method),
					slog.String("path", r.Path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("source: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("source: %s %s failed after %d retries: %w", r.Method, r.Path, maxRetries, err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return nil, fmt.Errorf("source: reading %s %s response: %w", r.Method, r.Path, readErr)
			}

			c.logger.Debug("request succeeded",
				slog.String("method", r.Method),
				slog.String("path", r.Path),
				slog.Int("status", resp.StatusCode),
			)

			return body, nil
		}

		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.Method),
				slog.String("path", r.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("source: request canceled: %w", err)
			}

			attempt++

			continue
		}

		upErr := &UpstreamError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    truncate(string(body), maxErrorBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		switch {
		case authed && isSessionRejection(resp.StatusCode, body):
			upErr.Err = ErrSessionExpired
			c.session.MarkExpired()
		case !authed && upErr.Err == ErrSessionExpired:
			// A rejected pre-signed URL says nothing about the session.
			upErr.Err = ErrForbidden
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", r.Method),
				slog.String("path", r.Path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, upErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, url string, r Request, authed bool, extra http.Header,
) (*http.Response, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if authed {
		h, err := c.session.AuthHeaders(ctx, r.RequireOrg)
		if err != nil {
			return nil, err
		}

		for k, vs := range h {
			req.Header[k] = vs
		}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	for k, vs := range extra {
		req.Header[k] = vs
	}

	return c.httpClient.Do(req)
}

// lookupOrg asks the service which organization the bearer token belongs
// to. Runs inside an already-held session gate, so it talks to the
// transport directly.
func (c *Client) lookupOrg(ctx context.Context, bearer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/session/org", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearer)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("source: organization lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("source: reading organization lookup: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    truncate(string(body), maxErrorBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var out struct {
		OrgID string `json:"orgId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("source: decoding organization lookup: %w", err)
	}

	return out.OrgID, nil
}

// isSessionRejection reports whether a response means the session itself is
// no longer accepted.
func isSessionRejection(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}

	if status != http.StatusForbidden {
		return false
	}

	var e struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &e) != nil {
		return false
	}

	return authErrorCodes[e.Code]
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
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
