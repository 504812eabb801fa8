// Package restclient is the outbound HTTP helper shared by the ESL client and
// the catalog adapters: rate limiting, a per-call timeout, JSON bodies and
// status classification into syncerr kinds.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"esl-sync-service/internal/syncerr"
	"esl-sync-service/prometheus"

	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Client performs rate limited JSON calls against one base URL
type Client struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Timeout    time.Duration
}

// New creates a client allowing perSecond requests per second with a burst
// of the same size. perSecond <= 0 disables limiting.
func New(name, baseURL string, timeout time.Duration, perSecond int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return &Client{
		Name:       name,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Limiter:    limiter,
		Timeout:    timeout,
	}
}

// Request describes one JSON call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   interface{} // marshalled as JSON when non-nil
	Out    interface{} // response is decoded into Out when non-nil
}

// Do sends req and returns the response status. Non-2xx statuses come back as
// a classified *syncerr.Error.
func (c *Client) Do(ctx context.Context, req Request) (int, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return 0, syncerr.New(syncerr.Permanent, c.op(req.Method, req.Path), fmt.Errorf("failed to encode request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	target := c.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequest(req.Method, target, body)
	if err != nil {
		return 0, syncerr.New(syncerr.Permanent, c.op(req.Method, req.Path), err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	return c.Send(ctx, httpReq, req.Out)
}

// Send executes a prepared request under the limiter and timeout
func (c *Client) Send(ctx context.Context, httpReq *http.Request, out interface{}) (int, error) {
	op := c.op(httpReq.Method, httpReq.URL.Path)

	if err := c.Limiter.Wait(ctx); err != nil {
		return 0, syncerr.New(syncerr.Transient, op, fmt.Errorf("rate limiter error: %w", err))
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := c.HTTPClient.Do(httpReq.WithContext(ctx))
	if err != nil {
		prometheus.RecordAdapterCall(c.Name, "error")
		// timeouts, refused connections and resets all retry
		return 0, syncerr.New(syncerr.Transient, op, err)
	}
	defer resp.Body.Close()

	prometheus.RecordAdapterCall(c.Name, statusClass(resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, syncerr.New(syncerr.Transient, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, syncerr.FromStatus(op, resp.StatusCode, truncate(respBody))
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, syncerr.New(syncerr.Permanent, op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp.StatusCode, nil
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var se *syncerr.Error
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func (c *Client) op(method, path string) string {
	return fmt.Sprintf("%s %s %s", c.Name, method, path)
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
