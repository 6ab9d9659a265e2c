package solsync

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// statusSessionExpired is Laravel's CSRF/session-expired status.
const statusSessionExpired = 419

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.cfg.APIBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// eventsEndpoint resolves stream URLs, which always live under {origin}/api/events.
func (c *Client) eventsEndpoint(path string) string {
	return strings.TrimSuffix(c.cfg.APIBase, "/api") + "/api/events" + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	return req, nil
}

// send performs one round-trip. Authenticated requests carry the bearer
// credential; a 401/419 on them tears the session down and yields
// ErrUnauthorized without retrying.
func (c *Client) send(req *http.Request, endpoint string, authenticated bool) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if authenticated {
		if token := c.session.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	ctx, span := c.tracer.Start(req.Context(), "solsync "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()
	req = req.WithContext(ctx)

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveLatency(endpoint, c.clock.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: %w", endpoint, ErrTimeout, err)
		}
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if authenticated && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == statusSessionExpired) {
		drain(resp)
		span.SetStatus(codes.Error, "unauthorized")
		c.handleUnauthorized()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// handleUnauthorized clears the credential and notifies the host application.
func (c *Client) handleUnauthorized() {
	c.logger.Warn("session rejected by backend, clearing credentials")
	c.session.clear()
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// getJSON performs an authenticated GET and decodes a 2xx body into dest.
func (c *Client) getJSON(ctx context.Context, path, endpoint, fallback string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req, endpoint, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, fallback); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// sendJSON performs an authenticated request with an optional JSON body and
// decodes a 2xx response into out when out is non-nil.
func (c *Client) sendJSON(ctx context.Context, method, path, endpoint, fallback string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(req, endpoint, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, fallback); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// conditionalResult is a raw response to a conditional GET.
type conditionalResult struct {
	status int
	etag   string
	body   []byte
}

func (r conditionalResult) notModified() bool {
	return r.status == http.StatusNotModified
}

// getConditional performs an authenticated GET, sending validator as
// If-None-Match when non-empty, and reads the whole body.
func (c *Client) getConditional(ctx context.Context, path string, query url.Values, validator, endpoint string) (conditionalResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return conditionalResult{}, err
	}
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}
	resp, err := c.send(req, endpoint, true)
	if err != nil {
		return conditionalResult{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return conditionalResult{}, fmt.Errorf("read %s response: %w: %w", endpoint, ErrTimeout, err)
		}
		return conditionalResult{}, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return conditionalResult{status: resp.StatusCode, etag: resp.Header.Get("ETag"), body: body}, nil
}

// openStream opens an authenticated text/event-stream at url and returns
// its body. The caller closes it.
func (c *Client) openStream(ctx context.Context, url, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.send(req, endpoint, true)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, "failed to open event stream"); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// checkStatus turns a non-2xx response into an *APIError.
func checkStatus(resp *http.Response, fallback string) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return newAPIError(resp.StatusCode, body, fallback)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func (c *Client) logFetchError(resource string, key CacheKey, err error) {
	c.metrics.FetchError(resource)
	c.logger.Warn("fetch failed", zap.String("resource", resource), zap.String("key", string(key)), zap.Error(err))
}
